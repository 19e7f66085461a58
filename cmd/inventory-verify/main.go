package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
	"github.com/stocklane/wms_backend/workflow"
)

// Sweeps the balance cache against the movement ledger and persists a
// reconciliation report per business. Run it from cron or by hand after any
// incident that may have desynced the cache.
func main() {
	businessID := flag.String("business-id", "", "Optional: verify only one business (uuid string). If empty, verifies all businesses.")
	failOnDrift := flag.Bool("fail-on-drift", false, "Exit nonzero when any slot is inaccurate.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	var businesses []models.Business
	bizQuery := db.WithContext(ctx).Model(&models.Business{})
	if strings.TrimSpace(*businessID) != "" {
		bizQuery = bizQuery.Where("id = ?", strings.TrimSpace(*businessID))
	}
	if err := bizQuery.Find(&businesses).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list businesses: %v\n", err)
		os.Exit(1)
	}
	if len(businesses) == 0 {
		fmt.Fprintln(os.Stderr, "no businesses found to verify")
		return
	}

	drifted := false
	for _, b := range businesses {
		bid := b.ID.String()
		bizCtx := utils.SetBusinessIdInContext(ctx, bid)
		bizCtx = utils.SetUserNameInContext(bizCtx, "InventoryVerify")

		report, err := workflow.RunReconciliation(bizCtx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "business %s: reconciliation failed: %v\n", bid, err)
			os.Exit(1)
		}

		fmt.Printf("business %s: %d slots checked, %d inaccurate, max |variance| %s\n",
			bid, report.SlotsChecked, report.SlotsInaccurate, report.MaxAbsVariance.String())
		for _, line := range report.Details {
			fmt.Printf("  warehouse=%d location=%d variant=%d cached=%s ledger=%s variance=%s\n",
				line.WarehouseId, line.LocationId, line.VariantId,
				line.CachedOnHand.String(), line.LedgerSum.String(), line.Variance.String())
		}
		if report.SlotsInaccurate > 0 {
			drifted = true
		}
	}

	if drifted && *failOnDrift {
		os.Exit(2)
	}
}
