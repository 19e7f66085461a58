package workflow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

// allocationCandidate is one source of unreserved stock, in allocation order.
// Lot candidates carry their lot number; FIFO balance candidates leave it
// empty.
type allocationCandidate struct {
	WarehouseId int
	LocationId  int
	LotNumber   string
	Available   decimal.Decimal
}

// PlannedAllocation is one reservation the planner decided to take.
type PlannedAllocation struct {
	WarehouseId int
	LocationId  int
	LotNumber   string
	Qty         decimal.Decimal
}

// AllocationResult is the outcome of allocating one order line. A nonzero
// shortfall is a normal result, not an error; the caller decides whether to
// keep the line partially allocated or retry later.
type AllocationResult struct {
	DemandQty    decimal.Decimal            `json:"demand_qty"`
	AllocatedQty decimal.Decimal            `json:"allocated_qty"`
	Shortfall    decimal.Decimal            `json:"shortfall"`
	Reservations []*models.StockReservation `json:"reservations"`
}

// planAllocations walks candidates in their given order, taking
// min(remaining, available) from each until demand is exhausted or candidates
// run out. Pure; candidate ordering is the caller's contract.
func planAllocations(demand decimal.Decimal, candidates []allocationCandidate) ([]PlannedAllocation, decimal.Decimal) {
	var planned []PlannedAllocation
	remaining := demand

	for _, candidate := range candidates {
		if !remaining.IsPositive() {
			break
		}
		if !candidate.Available.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, candidate.Available)
		planned = append(planned, PlannedAllocation{
			WarehouseId: candidate.WarehouseId,
			LocationId:  candidate.LocationId,
			LotNumber:   candidate.LotNumber,
			Qty:         take,
		})
		remaining = remaining.Sub(take)
	}

	return planned, remaining
}

type AllocateStockInput struct {
	SalesOrderId       int             `json:"sales_order_id" binding:"required"`
	SalesOrderDetailId int             `json:"sales_order_detail_id" binding:"required"`
	DemandQty          decimal.Decimal `json:"demand_qty"`
}

// AllocateStock reserves stock for one sales order line, FEFO over the
// variant's lots with a pure-FIFO balance fallback for untracked variants.
// DemandQty zero means "whatever the line still needs".
//
// The candidate rows stay locked FOR UPDATE from read to reserve, and the
// whole operation runs under the per-business allocation lock, so two
// concurrent allocations can never both reserve the same availability.
func AllocateStock(ctx context.Context, input *AllocateStockInput) (*AllocationResult, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	release, err := utils.BusinessLock(ctx, businessId, "allocation", "allocationWorkflow.go", "AllocateStock")
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := models.GetSalesOrder(ctx, input.SalesOrderId)
	if err != nil {
		return nil, err
	}
	if order.Status == models.SalesOrderStatusShipped {
		return nil, models.NewBusinessRuleError("sales order %d is already fully shipped", order.ID)
	}

	var line *models.SalesOrderDetail
	for i := range order.Details {
		if order.Details[i].ID == input.SalesOrderDetailId {
			line = &order.Details[i]
			break
		}
	}
	if line == nil {
		return nil, models.NewValidationError("line %d does not belong to sales order %d", input.SalesOrderDetailId, order.ID)
	}

	demand := input.DemandQty
	if demand.IsZero() {
		demand = line.OrderedQty.Sub(line.AllocatedQty)
	}
	if !demand.IsPositive() {
		return nil, models.NewValidationError("demand quantity must be positive")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	// FEFO over lots; fall back to balances only when the variant has no lot
	// rows at all (i.e. it is not lot-tracked in practice).
	var candidates []allocationCandidate

	lots, err := models.FetchLotsForAllocation(tx, businessId, order.WarehouseId, 0, line.VariantId)
	if err != nil {
		config.LogError(logger, "allocationWorkflow.go", "AllocateStock", "FetchLotsForAllocation", line.VariantId, err)
		return nil, err
	}

	var lotRowCount int64
	if err := tx.Model(&models.InventoryLot{}).
		Where("business_id = ? AND variant_id = ?", businessId, line.VariantId).
		Count(&lotRowCount).Error; err != nil {
		return nil, err
	}

	if lotRowCount > 0 {
		for _, lot := range lots {
			candidates = append(candidates, allocationCandidate{
				WarehouseId: lot.WarehouseId,
				LocationId:  lot.LocationId,
				LotNumber:   lot.LotNumber,
				Available:   lot.QtyOnHand.Sub(lot.QtyReserved),
			})
		}
	} else {
		balances, err := models.FetchBalancesForAllocation(tx, businessId, order.WarehouseId, 0, line.VariantId)
		if err != nil {
			config.LogError(logger, "allocationWorkflow.go", "AllocateStock", "FetchBalancesForAllocation", line.VariantId, err)
			return nil, err
		}
		for _, balance := range balances {
			candidates = append(candidates, allocationCandidate{
				WarehouseId: balance.WarehouseId,
				LocationId:  balance.LocationId,
				Available:   balance.QtyOnHand.Sub(balance.QtyReserved),
			})
		}
	}

	planned, shortfall := planAllocations(demand, candidates)

	result := AllocationResult{
		DemandQty: demand,
		Shortfall: shortfall,
	}

	for _, plan := range planned {
		reservation, err := models.CreateReservation(tx, &models.NewStockReservation{
			BusinessId:    businessId,
			WarehouseId:   plan.WarehouseId,
			LocationId:    plan.LocationId,
			VariantId:     line.VariantId,
			LotNumber:     plan.LotNumber,
			Qty:           plan.Qty,
			ReferenceType: models.StockReferenceTypeSalesOrder,
			ReferenceId:   order.ID,
			ReferenceLine: line.ID,
		})
		if err != nil {
			config.LogError(logger, "allocationWorkflow.go", "AllocateStock", "CreateReservation", plan, err)
			return nil, err
		}
		result.Reservations = append(result.Reservations, reservation)
		result.AllocatedQty = result.AllocatedQty.Add(plan.Qty)
	}

	// SQL-side increment; a concurrent release of the same line must not be
	// overwritten by a stale absolute value.
	if result.AllocatedQty.IsPositive() {
		if err := tx.Exec(`UPDATE sales_order_details
			SET allocated_qty = allocated_qty + ?
			WHERE id = ?`,
			result.AllocatedQty, line.ID).Error; err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &result, nil
}
