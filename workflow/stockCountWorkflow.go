package workflow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

// StartStockCount freezes the expected quantities and moves the count to
// in_progress. Lot-tracked slots seed one line per lot; everything else seeds
// one line per balance slot. The snapshot is taken inside the transaction so
// it is one consistent point in time.
func StartStockCount(ctx context.Context, countId int) (*models.StockCount, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	count, err := models.GetStockCount(ctx, countId)
	if err != nil {
		return nil, err
	}
	if err := stockCountMachine.EnsureTransition(count.Status, models.StockCountStatusInProgress); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	// Lot rows first; their slots are excluded from the balance pass so a
	// lot-tracked slot is counted lot by lot, not twice.
	var lots []*models.InventoryLot
	lotQuery := tx.Where("business_id = ? AND warehouse_id = ? AND qty_on_hand > 0", businessId, count.WarehouseId)
	if count.LocationId > 0 {
		lotQuery = lotQuery.Where("location_id = ?", count.LocationId)
	}
	if err := lotQuery.Order("variant_id asc, lot_number asc").Find(&lots).Error; err != nil {
		return nil, err
	}

	lotVariants := map[int]bool{}
	for _, lot := range lots {
		lotVariants[lot.VariantId] = true
		detail := models.StockCountDetail{
			StockCountId: count.ID,
			VariantId:    lot.VariantId,
			LocationId:   lot.LocationId,
			LotNumber:    lot.LotNumber,
			ExpectedQty:  lot.QtyOnHand,
		}
		if err := tx.Create(&detail).Error; err != nil {
			return nil, err
		}
		count.Details = append(count.Details, detail)
	}

	var balances []*models.StockBalance
	balanceQuery := tx.Where("business_id = ? AND warehouse_id = ? AND qty_on_hand <> 0", businessId, count.WarehouseId)
	if count.LocationId > 0 {
		balanceQuery = balanceQuery.Where("location_id = ?", count.LocationId)
	}
	if err := balanceQuery.Order("variant_id asc, location_id asc").Find(&balances).Error; err != nil {
		return nil, err
	}

	for _, balance := range balances {
		if lotVariants[balance.VariantId] {
			continue
		}
		detail := models.StockCountDetail{
			StockCountId: count.ID,
			VariantId:    balance.VariantId,
			LocationId:   balance.LocationId,
			ExpectedQty:  balance.QtyOnHand,
		}
		if err := tx.Create(&detail).Error; err != nil {
			return nil, err
		}
		count.Details = append(count.Details, detail)
	}

	if len(count.Details) == 0 {
		config.LogError(logger, "stockCountWorkflow.go", "StartStockCount", "nothing to count", count.ID, nil)
		return nil, models.NewBusinessRuleError("no stock to count in warehouse %d", count.WarehouseId)
	}

	// Losing this CAS rolls back the snapshot; a racing start cannot seed the
	// count lines twice.
	if err := advanceStatus[models.StockCount](tx, &stockCountMachine, businessId, count.ID,
		models.StockCountStatusDraft, models.StockCountStatusInProgress); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	count.Status = models.StockCountStatusInProgress
	return count, nil
}

type RecordCountLineInput struct {
	StockCountId int             `json:"stock_count_id" binding:"required"`
	DetailId     int             `json:"detail_id" binding:"required"`
	CountedQty   decimal.Decimal `json:"counted_qty"`
}

// RecordCountLine stores one line's counted quantity and classifies its
// variance. Counting zero is legitimate and distinct from not counting.
func RecordCountLine(ctx context.Context, input *RecordCountLineInput) (*models.StockCountDetail, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	count, err := models.GetStockCount(ctx, input.StockCountId)
	if err != nil {
		return nil, err
	}
	if count.Status != models.StockCountStatusInProgress {
		return nil, models.NewStateTransitionError("stock count", count.Status, models.StockCountStatusInProgress)
	}
	if input.CountedQty.IsNegative() {
		return nil, models.NewValidationError("counted quantity must not be negative")
	}

	var line *models.StockCountDetail
	for i := range count.Details {
		if count.Details[i].ID == input.DetailId {
			line = &count.Details[i]
			break
		}
	}
	if line == nil {
		return nil, models.NewValidationError("line %d does not belong to stock count %d", input.DetailId, count.ID)
	}

	variance := input.CountedQty.Sub(line.ExpectedQty)
	result := models.ClassifyCountVariance(line.ExpectedQty, input.CountedQty)

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&models.StockCountDetail{}).
		Where("id = ?", line.ID).
		Updates(map[string]interface{}{
			"counted_qty": input.CountedQty,
			"variance":    variance,
			"result":      result,
		}).Error; err != nil {
		return nil, err
	}

	counted := input.CountedQty
	line.CountedQty = &counted
	line.Variance = variance
	line.Result = result
	return line, nil
}

// CompleteStockCount closes counting. Every line must have been counted.
// When every variance is zero the count posts itself immediately, since
// review would have nothing to decide.
func CompleteStockCount(ctx context.Context, countId int) (*models.StockCount, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	count, err := models.GetStockCount(ctx, countId)
	if err != nil {
		return nil, err
	}
	if err := stockCountMachine.EnsureTransition(count.Status, models.StockCountStatusCompleted); err != nil {
		return nil, err
	}

	allZero := true
	for _, detail := range count.Details {
		if detail.CountedQty == nil {
			return nil, models.NewBusinessRuleError("line %d has not been counted", detail.ID)
		}
		if !detail.Variance.IsZero() {
			allZero = false
		}
	}

	db := config.GetDB()
	if err := advanceStatus[models.StockCount](db.WithContext(ctx), &stockCountMachine, businessId, count.ID,
		models.StockCountStatusInProgress, models.StockCountStatusCompleted); err != nil {
		return nil, err
	}
	count.Status = models.StockCountStatusCompleted

	if allZero {
		// Nothing to post; the count is already reconciled.
		if err := advanceStatus[models.StockCount](db.WithContext(ctx), &stockCountMachine, businessId, count.ID,
			models.StockCountStatusCompleted, models.StockCountStatusPosted); err != nil {
			return nil, err
		}
		count.Status = models.StockCountStatusPosted
	}

	return count, nil
}

// ReviewStockCount is the sign-off gate between counting and posting.
func ReviewStockCount(ctx context.Context, countId int) (*models.StockCount, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	count, err := models.GetStockCount(ctx, countId)
	if err != nil {
		return nil, err
	}
	if err := stockCountMachine.EnsureTransition(count.Status, models.StockCountStatusReviewed); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := advanceStatus[models.StockCount](db.WithContext(ctx), &stockCountMachine, businessId, count.ID,
		models.StockCountStatusCompleted, models.StockCountStatusReviewed); err != nil {
		return nil, err
	}

	count.Status = models.StockCountStatusReviewed
	return count, nil
}

// PostStockCount writes one compensating COUNT movement per nonzero-variance
// line, bringing the ledger in line with what was physically counted.
func PostStockCount(ctx context.Context, countId int, idempotencyKey string) (*models.StockCount, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	count, err := models.GetStockCount(ctx, countId)
	if err != nil {
		return nil, err
	}
	if err := stockCountMachine.EnsureTransition(count.Status, models.StockCountStatusPosted); err != nil {
		return nil, err
	}
	if count.Status != models.StockCountStatusReviewed {
		return nil, models.NewStateTransitionError("stock count", count.Status, models.StockCountStatusPosted)
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

	skip, _, err := beginIdempotency(tx, businessId, "PostStockCount", idempotencyKey)
	if err != nil {
		return nil, err
	}
	if skip {
		return count, commitPosting(tx, businessId)
	}

	postingTime := utils.PostingTimeOrNow(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	for _, detail := range count.Details {
		if detail.Variance.IsZero() {
			continue
		}
		_, err := models.PostMovement(tx, &models.NewStockMovement{
			BusinessId:    businessId,
			WarehouseId:   count.WarehouseId,
			LocationId:    detail.LocationId,
			VariantId:     detail.VariantId,
			LotNumber:     detail.LotNumber,
			Qty:           detail.Variance,
			ReferenceType: models.StockReferenceTypeCount,
			ReferenceId:   count.ID,
			ReferenceLine: detail.ID,
			PostingTime:   postingTime,
			Note:          count.CountNumber,
			UserId:        userId,
			UserName:      userName,
		})
		if err != nil {
			config.LogError(logger, "stockCountWorkflow.go", "PostStockCount", "PostMovement", detail.ID, err)
			return nil, err
		}
	}

	// Losing this CAS to a racing post rolls the movements back with the tx.
	if err := advanceStatus[models.StockCount](tx, &stockCountMachine, businessId, count.ID,
		models.StockCountStatusReviewed, models.StockCountStatusPosted); err != nil {
		config.LogError(logger, "stockCountWorkflow.go", "PostStockCount", "advanceStatus", count.ID, err)
		return nil, err
	}

	if err := markIdempotencySucceeded(tx, businessId, "PostStockCount", idempotencyKey, count.ID); err != nil {
		return nil, err
	}

	if err := commitPosting(tx, businessId); err != nil {
		_ = markIdempotencyFailed(db, businessId, "PostStockCount", idempotencyKey, err)
		return nil, err
	}

	count.Status = models.StockCountStatusPosted
	return count, nil
}
