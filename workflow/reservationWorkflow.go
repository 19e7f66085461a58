package workflow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

type ReleaseReservationInput struct {
	ReservationId int             `json:"reservation_id" binding:"required"`
	Qty           decimal.Decimal `json:"qty"`
}

// ReleaseReservation hands a reservation's quantity back to available stock,
// capped at what the reservation still holds. Qty zero releases everything.
func ReleaseReservation(ctx context.Context, input *ReleaseReservationInput) (*models.StockReservation, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	reservation, err := models.FetchReservationForUpdate(tx, businessId, input.ReservationId)
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	qty := input.Qty
	if qty.IsZero() {
		qty = reservation.Qty
	}

	released, err := models.ReleaseReservationQty(tx, reservation, qty, models.ReservationStatusReleased)
	if err != nil {
		config.LogError(logger, "reservationWorkflow.go", "ReleaseReservation", "ReleaseReservationQty", input.ReservationId, err)
		return nil, err
	}

	// Releasing hands the quantity back to the order line's unallocated pool.
	// The released amount is capped at what the reservation held, not what the
	// caller asked for.
	if reservation.ReferenceType == models.StockReferenceTypeSalesOrder && reservation.ReferenceLine > 0 {
		if err := tx.Exec(`UPDATE sales_order_details
			SET allocated_qty = GREATEST(allocated_qty - ?, 0)
			WHERE id = ?`,
			released, reservation.ReferenceLine).Error; err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return reservation, nil
}

// ReleaseOrderReservations releases every active reservation of one document,
// used when an order is cancelled before shipping.
func ReleaseOrderReservations(ctx context.Context, referenceType models.StockReferenceType, referenceId int) (int, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return 0, errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	reservations, err := models.FetchActiveReservations(tx, businessId, referenceType, referenceId)
	if err != nil {
		return 0, err
	}

	for _, reservation := range reservations {
		if err := models.ReleaseReservationRow(tx, reservation); err != nil {
			config.LogError(logger, "reservationWorkflow.go", "ReleaseOrderReservations", "ReleaseReservationRow", reservation.ID, err)
			return 0, err
		}
		if reservation.ReferenceType == models.StockReferenceTypeSalesOrder && reservation.ReferenceLine > 0 {
			if err := tx.Exec(`UPDATE sales_order_details
				SET allocated_qty = GREATEST(allocated_qty - ?, 0)
				WHERE id = ?`,
				reservation.Qty, reservation.ReferenceLine).Error; err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return len(reservations), nil
}
