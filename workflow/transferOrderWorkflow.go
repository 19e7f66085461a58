package workflow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

// ApproveTransfer moves a draft transfer to approved. No stock moves yet.
func ApproveTransfer(ctx context.Context, transferId int) (*models.TransferOrder, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	transfer, err := models.GetTransferOrder(ctx, transferId)
	if err != nil {
		return nil, err
	}
	if err := transferMachine.EnsureTransition(transfer.Status, models.TransferStatusApproved); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := advanceStatus[models.TransferOrder](db.WithContext(ctx), &transferMachine, businessId, transfer.ID,
		models.TransferStatusDraft, models.TransferStatusApproved); err != nil {
		return nil, err
	}

	transfer.Status = models.TransferStatusApproved
	return transfer, nil
}

// DispatchTransfer posts the outbound TRANSFER movements at the source
// warehouse and flags the dispatched quantity as incoming at the destination.
// Shipped quantity is the requested quantity; short-shipping is handled at
// receipt, not dispatch.
func DispatchTransfer(ctx context.Context, transferId int, idempotencyKey string) (*models.TransferOrder, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	transfer, err := models.GetTransferOrder(ctx, transferId)
	if err != nil {
		return nil, err
	}
	if err := transferMachine.EnsureTransition(transfer.Status, models.TransferStatusInTransit); err != nil {
		return nil, err
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

	skip, _, err := beginIdempotency(tx, businessId, "DispatchTransfer", idempotencyKey)
	if err != nil {
		return nil, err
	}
	if skip {
		return transfer, commitPosting(tx, businessId)
	}

	postingTime := utils.PostingTimeOrNow(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	for _, detail := range transfer.Details {
		_, err := models.PostOutboundMovement(tx, &models.NewStockMovement{
			BusinessId:    businessId,
			WarehouseId:   transfer.SourceWarehouseId,
			VariantId:     detail.VariantId,
			LotNumber:     detail.LotNumber,
			Qty:           detail.RequestedQty,
			ReferenceType: models.StockReferenceTypeTransfer,
			ReferenceId:   transfer.ID,
			ReferenceLine: detail.ID,
			PostingTime:   postingTime,
			Note:          transfer.TransferNumber,
			UserId:        userId,
			UserName:      userName,
		})
		if err != nil {
			config.LogError(logger, "transferOrderWorkflow.go", "DispatchTransfer", "PostOutboundMovement", detail.ID, err)
			return nil, err
		}

		if err := tx.Model(&models.TransferOrderDetail{}).
			Where("id = ?", detail.ID).
			Update("shipped_qty", detail.RequestedQty).Error; err != nil {
			return nil, err
		}

		// In-transit stock shows as incoming at the destination.
		destKey := models.StockBalanceKey{
			BusinessId:  businessId,
			WarehouseId: transfer.DestWarehouseId,
			VariantId:   detail.VariantId,
		}
		if err := models.AdjustBalanceIncoming(tx, destKey, detail.RequestedQty); err != nil {
			return nil, err
		}
		models.InvalidateStockSummary(businessId, detail.VariantId)
	}

	// Losing this CAS to a racing dispatch rolls the movements back with the tx.
	if err := advanceStatus[models.TransferOrder](tx, &transferMachine, businessId, transfer.ID,
		models.TransferStatusApproved, models.TransferStatusInTransit); err != nil {
		config.LogError(logger, "transferOrderWorkflow.go", "DispatchTransfer", "advanceStatus", transfer.ID, err)
		return nil, err
	}

	if err := markIdempotencySucceeded(tx, businessId, "DispatchTransfer", idempotencyKey, transfer.ID); err != nil {
		return nil, err
	}

	if err := commitPosting(tx, businessId); err != nil {
		_ = markIdempotencyFailed(db, businessId, "DispatchTransfer", idempotencyKey, err)
		return nil, err
	}

	transfer.Status = models.TransferStatusInTransit
	return transfer, nil
}

type ReceiveTransferInput struct {
	TransferId     int                   `json:"transfer_id" binding:"required"`
	IdempotencyKey string                `json:"idempotency_key"`
	Lines          []ReceiveTransferLine `json:"lines"`
}

// ReceiveTransferLine overrides one line's received quantity. Lines not
// mentioned receive exactly what was shipped.
type ReceiveTransferLine struct {
	DetailId    int             `json:"detail_id" binding:"required"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
}

// ReceiveTransfer posts the inbound TRANSFER movements at the destination and
// clears the incoming flag. Received quantity defaults to shipped but may
// differ per line; a discrepancy stays visible as shipped vs received on the
// document rather than being silently reconciled.
func ReceiveTransfer(ctx context.Context, input *ReceiveTransferInput) (*models.TransferOrder, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	transfer, err := models.GetTransferOrder(ctx, input.TransferId)
	if err != nil {
		return nil, err
	}
	if err := transferMachine.EnsureTransition(transfer.Status, models.TransferStatusReceived); err != nil {
		return nil, err
	}

	overrides := map[int]decimal.Decimal{}
	for _, line := range input.Lines {
		if line.ReceivedQty.IsNegative() {
			return nil, models.NewValidationError("received quantity must not be negative")
		}
		overrides[line.DetailId] = line.ReceivedQty
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

	skip, _, err := beginIdempotency(tx, businessId, "ReceiveTransfer", input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if skip {
		return transfer, commitPosting(tx, businessId)
	}

	postingTime := utils.PostingTimeOrNow(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	for _, detail := range transfer.Details {
		receivedQty := detail.ShippedQty
		if override, ok := overrides[detail.ID]; ok {
			receivedQty = override
		}

		if receivedQty.IsPositive() {
			_, err := models.PostMovement(tx, &models.NewStockMovement{
				BusinessId:    businessId,
				WarehouseId:   transfer.DestWarehouseId,
				VariantId:     detail.VariantId,
				LotNumber:     detail.LotNumber,
				ExpiryDate:    detail.ExpiryDate,
				Qty:           receivedQty,
				ReferenceType: models.StockReferenceTypeTransfer,
				ReferenceId:   transfer.ID,
				ReferenceLine: detail.ID,
				PostingTime:   postingTime,
				Note:          transfer.TransferNumber,
				UserId:        userId,
				UserName:      userName,
			})
			if err != nil {
				config.LogError(logger, "transferOrderWorkflow.go", "ReceiveTransfer", "PostMovement", detail.ID, err)
				return nil, err
			}
		}

		if err := tx.Model(&models.TransferOrderDetail{}).
			Where("id = ?", detail.ID).
			Update("received_qty", receivedQty).Error; err != nil {
			return nil, err
		}

		// Whatever was dispatched is no longer incoming, received or not.
		destKey := models.StockBalanceKey{
			BusinessId:  businessId,
			WarehouseId: transfer.DestWarehouseId,
			VariantId:   detail.VariantId,
		}
		if err := models.AdjustBalanceIncoming(tx, destKey, detail.ShippedQty.Neg()); err != nil {
			return nil, err
		}
		models.InvalidateStockSummary(businessId, detail.VariantId)
	}

	// Losing this CAS to a racing receive rolls the movements back with the tx.
	if err := advanceStatus[models.TransferOrder](tx, &transferMachine, businessId, transfer.ID,
		models.TransferStatusInTransit, models.TransferStatusReceived); err != nil {
		config.LogError(logger, "transferOrderWorkflow.go", "ReceiveTransfer", "advanceStatus", transfer.ID, err)
		return nil, err
	}

	if err := markIdempotencySucceeded(tx, businessId, "ReceiveTransfer", input.IdempotencyKey, transfer.ID); err != nil {
		return nil, err
	}

	if err := commitPosting(tx, businessId); err != nil {
		_ = markIdempotencyFailed(db, businessId, "ReceiveTransfer", input.IdempotencyKey, err)
		return nil, err
	}

	transfer.Status = models.TransferStatusReceived
	return transfer, nil
}
