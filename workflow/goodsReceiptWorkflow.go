package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

type ReceiveGoodsReceiptLineInput struct {
	GoodsReceiptId int             `json:"goods_receipt_id" binding:"required"`
	VariantId      int             `json:"variant_id" binding:"required"`
	LocationId     int             `json:"location_id"`
	LotNumber      string          `json:"lot_number"`
	ExpiryDate     *time.Time      `json:"expiry_date"`
	ReceivedQty    decimal.Decimal `json:"received_qty" binding:"required"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
}

// ReceiveGoodsReceiptLine records one received line against an open receipt.
// The received quantity may never exceed what remains outstanding on the
// purchase order line; the purchase order's received totals and aggregate
// status advance immediately, while the stock itself moves only on
// completion.
func ReceiveGoodsReceiptLine(ctx context.Context, input *ReceiveGoodsReceiptLineInput) (*models.GoodsReceipt, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	receipt, err := models.GetGoodsReceipt(ctx, input.GoodsReceiptId)
	if err != nil {
		return nil, err
	}
	if receipt.Status != models.GoodsReceiptStatusDraft && receipt.Status != models.GoodsReceiptStatusPartial {
		return nil, models.NewStateTransitionError("goods receipt", receipt.Status, models.GoodsReceiptStatusPartial)
	}
	if !input.ReceivedQty.IsPositive() {
		return nil, models.NewValidationError("received quantity must be positive")
	}

	order, err := models.GetPurchaseOrder(ctx, receipt.PurchaseOrderId)
	if err != nil {
		return nil, err
	}

	var orderLine *models.PurchaseOrderDetail
	for i := range order.Details {
		if order.Details[i].VariantId == input.VariantId {
			orderLine = &order.Details[i]
			break
		}
	}
	if orderLine == nil {
		return nil, models.NewValidationError("variant %d is not on purchase order %d", input.VariantId, order.ID)
	}

	outstanding := orderLine.OrderedQty.Sub(orderLine.ReceivedQty)
	if input.ReceivedQty.GreaterThan(outstanding) {
		return nil, models.ErrOverReceive
	}

	unitCost := input.UnitCost
	if unitCost.IsZero() {
		unitCost = orderLine.UnitCost
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	detail := models.GoodsReceiptDetail{
		GoodsReceiptId: receipt.ID,
		VariantId:      input.VariantId,
		LocationId:     input.LocationId,
		LotNumber:      input.LotNumber,
		ExpiryDate:     input.ExpiryDate,
		ReceivedQty:    input.ReceivedQty,
		UnitCost:       unitCost,
	}
	if err := tx.Create(&detail).Error; err != nil {
		return nil, err
	}

	// Guarded accumulate: a concurrent receipt against the same line loses the
	// race instead of over-receiving.
	result := tx.Exec(`UPDATE purchase_order_details
		SET received_qty = received_qty + ?
		WHERE id = ? AND received_qty + ? <= ordered_qty`,
		input.ReceivedQty, orderLine.ID, input.ReceivedQty)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrOverReceive
	}
	orderLine.ReceivedQty = orderLine.ReceivedQty.Add(input.ReceivedQty)

	orderStatus := models.PurchaseOrderStatusPartial
	if order.IsFullyReceived() {
		orderStatus = models.PurchaseOrderStatusReceived
	}
	if err := purchaseOrderMachine.EnsureTransition(order.Status, orderStatus); err != nil {
		config.LogError(logger, "goodsReceiptWorkflow.go", "ReceiveGoodsReceiptLine", "EnsureTransition", order.Status, err)
		return nil, err
	}
	if err := tx.Model(&models.PurchaseOrder{}).
		Where("id = ?", order.ID).
		Update("status", orderStatus).Error; err != nil {
		return nil, err
	}

	if receipt.Status == models.GoodsReceiptStatusDraft {
		if err := tx.Model(&models.GoodsReceipt{}).
			Where("id = ?", receipt.ID).
			Update("status", models.GoodsReceiptStatusPartial).Error; err != nil {
			return nil, err
		}
		receipt.Status = models.GoodsReceiptStatusPartial
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	receipt.Details = append(receipt.Details, detail)
	return receipt, nil
}

// CompleteGoodsReceipt posts one inbound GRN movement per received line and
// burns down the incoming quantity the purchase order issue flagged. A
// completed receipt is terminal.
func CompleteGoodsReceipt(ctx context.Context, receiptId int, idempotencyKey string) (*models.GoodsReceipt, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	receipt, err := models.GetGoodsReceipt(ctx, receiptId)
	if err != nil {
		return nil, err
	}
	if err := goodsReceiptMachine.EnsureTransition(receipt.Status, models.GoodsReceiptStatusCompleted); err != nil {
		return nil, err
	}
	if len(receipt.Details) == 0 {
		return nil, models.NewBusinessRuleError("goods receipt %d has no received lines", receipt.ID)
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

	skip, _, err := beginIdempotency(tx, businessId, "CompleteGoodsReceipt", idempotencyKey)
	if err != nil {
		return nil, err
	}
	if skip {
		return receipt, commitPosting(tx, businessId)
	}

	postingTime := utils.PostingTimeOrNow(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	for _, detail := range receipt.Details {
		_, err := models.PostMovement(tx, &models.NewStockMovement{
			BusinessId:    businessId,
			WarehouseId:   receipt.WarehouseId,
			LocationId:    detail.LocationId,
			VariantId:     detail.VariantId,
			LotNumber:     detail.LotNumber,
			ExpiryDate:    detail.ExpiryDate,
			Qty:           detail.ReceivedQty,
			UnitCost:      detail.UnitCost,
			ReferenceType: models.StockReferenceTypeGoodsReceipt,
			ReferenceId:   receipt.ID,
			ReferenceLine: detail.ID,
			PostingTime:   postingTime,
			Note:          receipt.ReceiptNumber,
			UserId:        userId,
			UserName:      userName,
		})
		if err != nil {
			config.LogError(logger, "goodsReceiptWorkflow.go", "CompleteGoodsReceipt", "PostMovement", detail.ID, err)
			return nil, err
		}

		// The received quantity is no longer incoming.
		key := models.StockBalanceKey{
			BusinessId:  businessId,
			WarehouseId: receipt.WarehouseId,
			VariantId:   detail.VariantId,
		}
		if err := models.AdjustBalanceIncoming(tx, key, detail.ReceivedQty.Neg()); err != nil {
			return nil, err
		}
	}

	// The pre-lock status read can be stale; losing this CAS rolls the whole
	// posting back, so a racing completion cannot land its movements twice.
	if err := advanceStatus[models.GoodsReceipt](tx, &goodsReceiptMachine, businessId, receipt.ID,
		receipt.Status, models.GoodsReceiptStatusCompleted); err != nil {
		config.LogError(logger, "goodsReceiptWorkflow.go", "CompleteGoodsReceipt", "advanceStatus", receipt.ID, err)
		return nil, err
	}

	if err := markIdempotencySucceeded(tx, businessId, "CompleteGoodsReceipt", idempotencyKey, receipt.ID); err != nil {
		return nil, err
	}

	if err := commitPosting(tx, businessId); err != nil {
		_ = markIdempotencyFailed(db, businessId, "CompleteGoodsReceipt", idempotencyKey, err)
		return nil, err
	}

	receipt.Status = models.GoodsReceiptStatusCompleted
	return receipt, nil
}
