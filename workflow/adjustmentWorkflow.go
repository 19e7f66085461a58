package workflow

import (
	"context"
	"errors"

	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

func transitionAdjustment(ctx context.Context, adjustmentId int, to models.DocumentStatus, extra map[string]interface{}) (*models.StockAdjustment, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	adjustment, err := models.GetStockAdjustment(ctx, adjustmentId)
	if err != nil {
		return nil, err
	}
	if err := adjustmentMachine.EnsureTransition(adjustment.Status, to); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	db := config.GetDB()
	result := db.WithContext(ctx).Model(&models.StockAdjustment{}).
		Where("business_id = ? AND id = ? AND status = ?", businessId, adjustment.ID, adjustment.Status).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, models.NewBusinessRuleError("adjustment %d changed concurrently", adjustment.ID)
	}

	adjustment.Status = to
	return adjustment, nil
}

// SubmitAdjustment sends a draft adjustment for approval.
func SubmitAdjustment(ctx context.Context, adjustmentId int) (*models.StockAdjustment, error) {
	return transitionAdjustment(ctx, adjustmentId, models.AdjustmentStatusPendingApproval, nil)
}

// ApproveAdjustment records the approver and unlocks posting.
func ApproveAdjustment(ctx context.Context, adjustmentId int) (*models.StockAdjustment, error) {
	userName, _ := utils.GetUserNameFromContext(ctx)
	return transitionAdjustment(ctx, adjustmentId, models.AdjustmentStatusApproved,
		map[string]interface{}{"approved_by": userName})
}

// RejectAdjustment is terminal; a rejected adjustment can never be posted.
func RejectAdjustment(ctx context.Context, adjustmentId int) (*models.StockAdjustment, error) {
	return transitionAdjustment(ctx, adjustmentId, models.AdjustmentStatusRejected, nil)
}

// CancelAdjustment is permitted anywhere before posting.
func CancelAdjustment(ctx context.Context, adjustmentId int) (*models.StockAdjustment, error) {
	return transitionAdjustment(ctx, adjustmentId, models.AdjustmentStatusCancelled, nil)
}

// PostAdjustment writes one ADJUSTMENT movement per line. Negative lines are
// pre-validated against available stock before any movement exists, so a
// rejected adjustment leaves the ledger untouched.
func PostAdjustment(ctx context.Context, adjustmentId int, idempotencyKey string) (*models.StockAdjustment, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	adjustment, err := models.GetStockAdjustment(ctx, adjustmentId)
	if err != nil {
		return nil, err
	}
	if err := adjustmentMachine.EnsureTransition(adjustment.Status, models.AdjustmentStatusPosted); err != nil {
		return nil, err
	}
	if len(adjustment.Details) == 0 {
		return nil, models.NewBusinessRuleError("adjustment %d has no lines", adjustment.ID)
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

	skip, _, err := beginIdempotency(tx, businessId, "PostAdjustment", idempotencyKey)
	if err != nil {
		return nil, err
	}
	if skip {
		return adjustment, commitPosting(tx, businessId)
	}

	// Pre-validate every negative line against available stock while the
	// balance rows are locked, before any movement is created.
	for _, detail := range adjustment.Details {
		if !detail.QtyDelta.IsNegative() {
			continue
		}
		balance, err := models.FirstOrCreateStockBalance(tx, models.StockBalanceKey{
			BusinessId:  businessId,
			WarehouseId: adjustment.WarehouseId,
			LocationId:  detail.LocationId,
			VariantId:   detail.VariantId,
		})
		if err != nil {
			return nil, err
		}
		if balance.QtyAvailable.LessThan(detail.QtyDelta.Neg()) {
			config.LogError(logger, "adjustmentWorkflow.go", "PostAdjustment", "insufficient stock for line", detail.ID, models.ErrInsufficientStock)
			return nil, models.ErrInsufficientStock
		}
	}

	postingTime := utils.PostingTimeOrNow(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	for _, detail := range adjustment.Details {
		_, err := models.PostMovement(tx, &models.NewStockMovement{
			BusinessId:    businessId,
			WarehouseId:   adjustment.WarehouseId,
			LocationId:    detail.LocationId,
			VariantId:     detail.VariantId,
			LotNumber:     detail.LotNumber,
			Qty:           detail.QtyDelta,
			UnitCost:      detail.UnitCost,
			ReferenceType: models.StockReferenceTypeAdjustment,
			ReferenceId:   adjustment.ID,
			ReferenceLine: detail.ID,
			PostingTime:   postingTime,
			Note:          adjustment.Reason,
			UserId:        userId,
			UserName:      userName,
		})
		if err != nil {
			config.LogError(logger, "adjustmentWorkflow.go", "PostAdjustment", "PostMovement", detail.ID, err)
			return nil, err
		}
	}

	// Losing this CAS to a racing post rolls the movements back with the tx.
	if err := advanceStatus[models.StockAdjustment](tx, &adjustmentMachine, businessId, adjustment.ID,
		models.AdjustmentStatusApproved, models.AdjustmentStatusPosted); err != nil {
		config.LogError(logger, "adjustmentWorkflow.go", "PostAdjustment", "advanceStatus", adjustment.ID, err)
		return nil, err
	}

	if err := markIdempotencySucceeded(tx, businessId, "PostAdjustment", idempotencyKey, adjustment.ID); err != nil {
		return nil, err
	}

	if err := commitPosting(tx, businessId); err != nil {
		_ = markIdempotencyFailed(db, businessId, "PostAdjustment", idempotencyKey, err)
		return nil, err
	}

	adjustment.Status = models.AdjustmentStatusPosted
	return adjustment, nil
}
