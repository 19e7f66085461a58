package workflow

import (
	"context"
	"errors"

	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
)

// RunReconciliation sweeps every balance slot of the business, compares the
// cached on-hand against the ledger sum, and persists the result as a report.
// The verification itself is read-only; only the report row is written.
func RunReconciliation(ctx context.Context) (*models.ReconciliationReport, error) {
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

	verifications, err := models.VerifyAllBalances(tx, businessId)
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "RunReconciliation", "VerifyAllBalances", businessId, err)
		return nil, err
	}

	report := models.BuildReconciliationReport(businessId, verifications, utils.PostingTimeOrNow(ctx))
	if err := models.SaveReconciliationReport(tx, report); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if report.SlotsInaccurate > 0 {
		logger.WithField("business_id", businessId).
			WithField("slots_inaccurate", report.SlotsInaccurate).
			WithField("max_abs_variance", report.MaxAbsVariance.String()).
			Warn("balance cache drift detected")
	}

	return report, nil
}

// VerifySlot is the interactive single-slot shape of the sweep.
func VerifySlot(ctx context.Context, warehouseId, locationId, variantId int) (*models.BalanceVerification, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	return models.VerifyBalance(db.WithContext(ctx), models.StockBalanceKey{
		BusinessId:  businessId,
		WarehouseId: warehouseId,
		LocationId:  locationId,
		VariantId:   variantId,
	})
}
