package workflow

import (
	"context"
	"errors"

	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

// StartPicking moves a draft shipment to picking and seeds its lines from the
// sales order's active reservations: what was allocated is what gets picked.
func StartPicking(ctx context.Context, shipmentId int) (*models.Shipment, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	shipment, err := models.GetShipment(ctx, shipmentId)
	if err != nil {
		return nil, err
	}
	if err := shipmentMachine.EnsureTransition(shipment.Status, models.ShipmentStatusPicking); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	reservations, err := models.FetchActiveReservations(tx, businessId, models.StockReferenceTypeSalesOrder, shipment.SalesOrderId)
	if err != nil {
		return nil, err
	}
	if len(reservations) == 0 {
		return nil, models.NewBusinessRuleError("sales order %d has no active reservations to pick", shipment.SalesOrderId)
	}

	for _, reservation := range reservations {
		detail := models.ShipmentDetail{
			ShipmentId:    shipment.ID,
			ReservationId: reservation.ID,
			VariantId:     reservation.VariantId,
			LocationId:    reservation.LocationId,
			LotNumber:     reservation.LotNumber,
			ShippedQty:    reservation.Qty,
		}
		if err := tx.Create(&detail).Error; err != nil {
			return nil, err
		}
		shipment.Details = append(shipment.Details, detail)
	}

	// Losing this CAS rolls back the seeded lines; a racing start cannot pick
	// the same reservations twice.
	if err := advanceStatus[models.Shipment](tx, &shipmentMachine, businessId, shipment.ID,
		models.ShipmentStatusDraft, models.ShipmentStatusPicking); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	shipment.Status = models.ShipmentStatusPicking
	return shipment, nil
}

// PackShipment moves picking to packed. Packing is a pure status gate; the
// stock still sits reserved until shipping.
func PackShipment(ctx context.Context, shipmentId int) (*models.Shipment, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	shipment, err := models.GetShipment(ctx, shipmentId)
	if err != nil {
		return nil, err
	}
	if err := shipmentMachine.EnsureTransition(shipment.Status, models.ShipmentStatusPacked); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := advanceStatus[models.Shipment](db.WithContext(ctx), &shipmentMachine, businessId, shipment.ID,
		models.ShipmentStatusPicking, models.ShipmentStatusPacked); err != nil {
		return nil, err
	}

	shipment.Status = models.ShipmentStatusPacked
	return shipment, nil
}

// ShipShipment posts the outbound SHIPMENT movements, consumes the backing
// reservations, and advances the sales order's shipped totals in one atomic
// posting. A shipped shipment is terminal and cannot be cancelled.
func ShipShipment(ctx context.Context, shipmentId int, idempotencyKey string) (*models.Shipment, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	shipment, err := models.GetShipment(ctx, shipmentId)
	if err != nil {
		return nil, err
	}
	if err := shipmentMachine.EnsureTransition(shipment.Status, models.ShipmentStatusShipped); err != nil {
		return nil, err
	}
	if len(shipment.Details) == 0 {
		return nil, models.NewBusinessRuleError("shipment %d has no lines to ship", shipment.ID)
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	if err := acquirePostingLock(tx, businessId); err != nil {
		return nil, err
	}
	defer releasePostingLock(tx, businessId)

	skip, _, err := beginIdempotency(tx, businessId, "ShipShipment", idempotencyKey)
	if err != nil {
		return nil, err
	}
	if skip {
		return shipment, commitPosting(tx, businessId)
	}

	postingTime := utils.PostingTimeOrNow(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	for _, detail := range shipment.Details {
		reservation, err := models.FetchReservationForUpdate(tx, businessId, detail.ReservationId)
		if err != nil {
			config.LogError(logger, "shipmentWorkflow.go", "ShipShipment", "FetchReservationForUpdate", detail.ReservationId, err)
			return nil, err
		}

		// Consume the reservation first so the outbound availability check sees
		// the freed quantity.
		if _, err := models.ReleaseReservationQty(tx, reservation, detail.ShippedQty, models.ReservationStatusConsumed); err != nil {
			config.LogError(logger, "shipmentWorkflow.go", "ShipShipment", "ConsumeReservation", reservation.ID, err)
			return nil, err
		}

		_, err = models.PostOutboundMovement(tx, &models.NewStockMovement{
			BusinessId:    businessId,
			WarehouseId:   shipment.WarehouseId,
			LocationId:    detail.LocationId,
			VariantId:     detail.VariantId,
			LotNumber:     detail.LotNumber,
			Qty:           detail.ShippedQty,
			ReferenceType: models.StockReferenceTypeShipment,
			ReferenceId:   shipment.ID,
			ReferenceLine: detail.ID,
			PostingTime:   postingTime,
			Note:          shipment.ShipmentNumber,
			UserId:        userId,
			UserName:      userName,
		})
		if err != nil {
			config.LogError(logger, "shipmentWorkflow.go", "ShipShipment", "PostOutboundMovement", detail.ID, err)
			return nil, err
		}

		if reservation.ReferenceLine > 0 {
			if err := tx.Exec(`UPDATE sales_order_details
				SET shipped_qty = shipped_qty + ?,
					allocated_qty = GREATEST(allocated_qty - ?, 0)
				WHERE id = ?`,
				detail.ShippedQty, detail.ShippedQty, reservation.ReferenceLine).Error; err != nil {
				return nil, err
			}
		}
	}

	if err := advanceStatus[models.Shipment](tx, &shipmentMachine, businessId, shipment.ID,
		models.ShipmentStatusPacked, models.ShipmentStatusShipped); err != nil {
		config.LogError(logger, "shipmentWorkflow.go", "ShipShipment", "advanceStatus", shipment.ID, err)
		return nil, err
	}

	// Re-read the order's lines inside the transaction to settle its status.
	var order models.SalesOrder
	if err := tx.Preload("Details").
		Where("business_id = ? AND id = ?", businessId, shipment.SalesOrderId).
		First(&order).Error; err != nil {
		return nil, err
	}
	orderStatus := models.SalesOrderStatusPartial
	if order.IsFullyShipped() {
		orderStatus = models.SalesOrderStatusShipped
	}
	if err := tx.Model(&models.SalesOrder{}).
		Where("id = ?", order.ID).
		Update("status", orderStatus).Error; err != nil {
		return nil, err
	}

	if err := markIdempotencySucceeded(tx, businessId, "ShipShipment", idempotencyKey, shipment.ID); err != nil {
		return nil, err
	}

	if err := commitPosting(tx, businessId); err != nil {
		_ = markIdempotencyFailed(db, businessId, "ShipShipment", idempotencyKey, err)
		return nil, err
	}

	shipment.Status = models.ShipmentStatusShipped
	return shipment, nil
}
