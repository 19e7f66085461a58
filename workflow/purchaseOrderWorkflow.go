package workflow

import (
	"context"
	"errors"

	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

// IssuePurchaseOrder moves a draft order to issued and flags every ordered
// quantity as incoming at the receiving warehouse. Incoming is advisory: it
// feeds the on_order stock state, never availability.
func IssuePurchaseOrder(ctx context.Context, orderId int) (*models.PurchaseOrder, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	order, err := models.GetPurchaseOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	if err := purchaseOrderMachine.EnsureTransition(order.Status, models.PurchaseOrderStatusIssued); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	for _, detail := range order.Details {
		key := models.StockBalanceKey{
			BusinessId:  businessId,
			WarehouseId: order.WarehouseId,
			VariantId:   detail.VariantId,
		}
		if err := models.AdjustBalanceIncoming(tx, key, detail.OrderedQty); err != nil {
			config.LogError(logger, "purchaseOrderWorkflow.go", "IssuePurchaseOrder", "AdjustBalanceIncoming", detail.VariantId, err)
			return nil, err
		}
		models.InvalidateStockSummary(businessId, detail.VariantId)
	}

	// Losing this CAS rolls the incoming bumps back; a racing issue cannot
	// double-count the ordered quantities.
	if err := advanceStatus[models.PurchaseOrder](tx, &purchaseOrderMachine, businessId, order.ID,
		models.PurchaseOrderStatusDraft, models.PurchaseOrderStatusIssued); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	order.Status = models.PurchaseOrderStatusIssued
	return order, nil
}
