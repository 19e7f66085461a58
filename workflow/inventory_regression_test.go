package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
	"github.com/stocklane/wms_backend/workflow"
)

type testEnv struct {
	ctx        context.Context
	businessId string
	warehouse  *models.Warehouse
	unit       *models.ProductUnit
}

// setupInventoryTestEnv starts throwaway MySQL and Redis containers, connects
// the config layer to them, migrates the schema and seeds one business with
// its primary warehouse.
func setupInventoryTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "wms_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	if err := models.MigrateDatabase(db); err != nil {
		t.Fatalf("MigrateDatabase: %v", err)
	}

	ctx = utils.SetUserIdInContext(ctx, "u-1")
	ctx = utils.SetUserNameInContext(ctx, "Test")
	// Deterministic posting clock for the whole test.
	ctx = utils.SetPostingTimeInContext(ctx, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Test Biz", Email: "owner@test.local"})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessId := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	var primary models.Warehouse
	if err := db.WithContext(ctx).Where("business_id = ? AND name = ?", businessId, "Primary Warehouse").First(&primary).Error; err != nil {
		t.Fatalf("fetch primary warehouse: %v", err)
	}

	unit, err := models.CreateProductUnit(ctx, &models.NewProductUnit{Name: "Piece", Abbreviation: "pc"})
	if err != nil {
		t.Fatalf("CreateProductUnit: %v", err)
	}

	return &testEnv{ctx: ctx, businessId: businessId, warehouse: &primary, unit: unit}
}

func (e *testEnv) createVariant(t *testing.T, sku string, lotTracked bool) *models.ProductVariant {
	t.Helper()
	variant, err := models.CreateProductVariant(e.ctx, &models.NewProductVariant{
		Name:         "Variant " + sku,
		Sku:          sku,
		UnitId:       e.unit.ID,
		IsLotTracked: &lotTracked,
	})
	if err != nil {
		t.Fatalf("CreateProductVariant(%s): %v", sku, err)
	}
	return variant
}

// seedStock posts an inbound adjustment-tagged movement straight through the
// posting service.
func (e *testEnv) seedStock(t *testing.T, variantId int, lotNumber string, expiry *time.Time, qty string) {
	t.Helper()
	db := config.GetDB()
	tx := db.WithContext(e.ctx).Begin()
	if tx.Error != nil {
		t.Fatalf("begin: %v", tx.Error)
	}
	_, err := models.PostMovement(tx, &models.NewStockMovement{
		BusinessId:    e.businessId,
		WarehouseId:   e.warehouse.ID,
		VariantId:     variantId,
		LotNumber:     lotNumber,
		ExpiryDate:    expiry,
		Qty:           dec(t, qty),
		ReferenceType: models.StockReferenceTypeAdjustment,
		ReferenceId:   999,
		PostingTime:   utils.PostingTimeOrNow(e.ctx),
		Note:          "seed",
	})
	if err != nil {
		tx.Rollback()
		t.Fatalf("seed PostMovement: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("seed commit: %v", err)
	}
}

func (e *testEnv) balance(t *testing.T, variantId int) *models.StockBalance {
	t.Helper()
	db := config.GetDB()
	balance, err := models.GetStockBalance(db.WithContext(e.ctx), models.StockBalanceKey{
		BusinessId:  e.businessId,
		WarehouseId: e.warehouse.ID,
		VariantId:   variantId,
	})
	if err != nil {
		t.Fatalf("GetStockBalance: %v", err)
	}
	return balance
}

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", v, err)
	}
	return d
}

func requireQty(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if got.Cmp(decimal.RequireFromString(want)) != 0 {
		t.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}

func TestGoodsReceiptFlowAgainstPurchaseOrder(t *testing.T) {
	env := setupInventoryTestEnv(t)
	ctx := env.ctx

	variant := env.createVariant(t, "SKU-GRN", false)

	// Receipts accumulate against order lines by variant, so one variant may
	// not span two lines.
	_, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		OrderNumber: "PO-DUP",
		WarehouseId: env.warehouse.ID,
		Details: []models.NewPurchaseOrderDetail{
			{VariantId: variant.ID, OrderedQty: dec(t, "10")},
			{VariantId: variant.ID, OrderedQty: dec(t, "20")},
		},
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected duplicate-variant rejection, got: %v", err)
	}

	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		OrderNumber: "PO-001",
		WarehouseId: env.warehouse.ID,
		Details: []models.NewPurchaseOrderDetail{
			{VariantId: variant.ID, OrderedQty: dec(t, "100"), UnitCost: dec(t, "2.5")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	if _, err := workflow.IssuePurchaseOrder(ctx, po.ID); err != nil {
		t.Fatalf("IssuePurchaseOrder: %v", err)
	}
	requireQty(t, "incoming after issue", env.balance(t, variant.ID).QtyIncoming, "100")

	receipt, err := models.CreateGoodsReceipt(ctx, &models.NewGoodsReceipt{
		ReceiptNumber:   "GRN-001",
		PurchaseOrderId: po.ID,
	})
	if err != nil {
		t.Fatalf("CreateGoodsReceipt: %v", err)
	}

	receiveLine := func(qty string) error {
		_, err := workflow.ReceiveGoodsReceiptLine(ctx, &workflow.ReceiveGoodsReceiptLineInput{
			GoodsReceiptId: receipt.ID,
			VariantId:      variant.ID,
			ReceivedQty:    dec(t, qty),
		})
		return err
	}

	// receive 60 -> PO partial
	if err := receiveLine("60"); err != nil {
		t.Fatalf("receive 60: %v", err)
	}
	po2, err := models.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("GetPurchaseOrder: %v", err)
	}
	if po2.Status != models.PurchaseOrderStatusPartial {
		t.Fatalf("expected PO partial after 60, got %s", po2.Status)
	}
	requireQty(t, "PO received after 60", po2.Details[0].ReceivedQty, "60")

	// receive 50 more when only 40 remain -> business rule rejection
	err = receiveLine("50")
	if err == nil {
		t.Fatalf("expected over-receive rejection")
	}
	if !errors.Is(err, models.ErrBusinessRule) {
		t.Fatalf("expected business rule error, got: %v", err)
	}

	// receive the remaining 40 -> PO received
	if err := receiveLine("40"); err != nil {
		t.Fatalf("receive 40: %v", err)
	}
	po3, _ := models.GetPurchaseOrder(ctx, po.ID)
	if po3.Status != models.PurchaseOrderStatusReceived {
		t.Fatalf("expected PO received, got %s", po3.Status)
	}

	// nothing hit the ledger yet
	requireQty(t, "on hand before completion", env.balance(t, variant.ID).QtyOnHand, "0")

	if _, err := workflow.CompleteGoodsReceipt(ctx, receipt.ID, "idem-grn-001"); err != nil {
		t.Fatalf("CompleteGoodsReceipt: %v", err)
	}

	balance := env.balance(t, variant.ID)
	requireQty(t, "on hand after completion", balance.QtyOnHand, "100")
	requireQty(t, "incoming after completion", balance.QtyIncoming, "0")

	// completing again must not double-post; the completed status blocks it
	if _, err := workflow.CompleteGoodsReceipt(ctx, receipt.ID, "idem-grn-001"); !errors.Is(err, models.ErrIllegalTransition) {
		t.Fatalf("expected state violation on repeat completion, got: %v", err)
	}
	requireQty(t, "on hand after repeat completion attempt", env.balance(t, variant.ID).QtyOnHand, "100")

	verification, err := workflow.VerifySlot(ctx, env.warehouse.ID, 0, variant.ID)
	if err != nil {
		t.Fatalf("VerifySlot: %v", err)
	}
	if !verification.IsAccurate {
		t.Fatalf("balance should reconcile with ledger, variance=%s", verification.Variance)
	}
}

func TestConcurrentReceiptCompletionPostsOnce(t *testing.T) {
	env := setupInventoryTestEnv(t)
	ctx := env.ctx

	variant := env.createVariant(t, "SKU-RACE", false)

	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		OrderNumber: "PO-RACE",
		WarehouseId: env.warehouse.ID,
		Details: []models.NewPurchaseOrderDetail{
			{VariantId: variant.ID, OrderedQty: dec(t, "100")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	if _, err := workflow.IssuePurchaseOrder(ctx, po.ID); err != nil {
		t.Fatalf("IssuePurchaseOrder: %v", err)
	}

	receipt, err := models.CreateGoodsReceipt(ctx, &models.NewGoodsReceipt{
		ReceiptNumber:   "GRN-RACE",
		PurchaseOrderId: po.ID,
	})
	if err != nil {
		t.Fatalf("CreateGoodsReceipt: %v", err)
	}
	if _, err := workflow.ReceiveGoodsReceiptLine(ctx, &workflow.ReceiveGoodsReceiptLineInput{
		GoodsReceiptId: receipt.ID,
		VariantId:      variant.ID,
		ReceivedQty:    dec(t, "100"),
	}); err != nil {
		t.Fatalf("ReceiveGoodsReceiptLine: %v", err)
	}

	// Two completions race with no idempotency key, so only the status guard
	// on the receipt stands between them and a double posting.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = workflow.CompleteGoodsReceipt(ctx, receipt.ID, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, models.ErrIllegalTransition) {
			t.Fatalf("loser must fail the status guard, got: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one completion to land, got %d", succeeded)
	}

	requireQty(t, "on hand after racing completions", env.balance(t, variant.ID).QtyOnHand, "100")

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&models.StockMovement{}).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?",
			env.businessId, models.StockReferenceTypeGoodsReceipt, receipt.ID).
		Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one receipt movement, got %d", count)
	}
}

func TestPostingLockFreedAfterPosting(t *testing.T) {
	env := setupInventoryTestEnv(t)
	ctx := env.ctx

	variant := env.createVariant(t, "SKU-LOCK", false)
	env.seedStock(t, variant.ID, "", nil, "5")

	adjustment, err := models.CreateStockAdjustment(ctx, &models.NewStockAdjustment{
		AdjustmentNumber: "ADJ-LOCK",
		WarehouseId:      env.warehouse.ID,
		Reason:           "found stock",
		Details: []models.NewStockAdjustmentDetail{
			{VariantId: variant.ID, QtyDelta: dec(t, "3")},
		},
	})
	if err != nil {
		t.Fatalf("CreateStockAdjustment: %v", err)
	}
	if _, err := workflow.SubmitAdjustment(ctx, adjustment.ID); err != nil {
		t.Fatalf("SubmitAdjustment: %v", err)
	}
	if _, err := workflow.ApproveAdjustment(ctx, adjustment.ID); err != nil {
		t.Fatalf("ApproveAdjustment: %v", err)
	}
	if _, err := workflow.PostAdjustment(ctx, adjustment.ID, "idem-adj-lock"); err != nil {
		t.Fatalf("PostAdjustment: %v", err)
	}

	// The advisory lock must not outlive the posting on its pooled connection.
	db := config.GetDB()
	var free int
	lockName := fmt.Sprintf("stock_posting:%s", env.businessId)
	if err := db.WithContext(ctx).Raw("SELECT IS_FREE_LOCK(?)", lockName).Scan(&free).Error; err != nil {
		t.Fatalf("IS_FREE_LOCK: %v", err)
	}
	if free != 1 {
		t.Fatalf("posting lock %q still held after posting", lockName)
	}

	requireQty(t, "on hand after posting", env.balance(t, variant.ID).QtyOnHand, "8")
}

func TestAllocationPrefersEarliestExpiryAndShipmentConsumes(t *testing.T) {
	env := setupInventoryTestEnv(t)
	ctx := env.ctx

	variant := env.createVariant(t, "SKU-FEFO", true)

	early := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	env.seedStock(t, variant.ID, "LOT-EARLY", &early, "30")
	env.seedStock(t, variant.ID, "LOT-LATE", &late, "100")

	so, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		OrderNumber: "SO-001",
		WarehouseId: env.warehouse.ID,
		Details: []models.NewSalesOrderDetail{
			{VariantId: variant.ID, OrderedQty: dec(t, "20")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}

	result, err := workflow.AllocateStock(ctx, &workflow.AllocateStockInput{
		SalesOrderId:       so.ID,
		SalesOrderDetailId: so.Details[0].ID,
	})
	if err != nil {
		t.Fatalf("AllocateStock: %v", err)
	}
	requireQty(t, "allocated qty", result.AllocatedQty, "20")
	requireQty(t, "shortfall", result.Shortfall, "0")
	if len(result.Reservations) != 1 {
		t.Fatalf("expected one reservation, got %d", len(result.Reservations))
	}
	if result.Reservations[0].LotNumber != "LOT-EARLY" {
		t.Fatalf("expected reservation against LOT-EARLY, got %s", result.Reservations[0].LotNumber)
	}

	balance := env.balance(t, variant.ID)
	requireQty(t, "reserved after allocation", balance.QtyReserved, "20")
	requireQty(t, "available after allocation", balance.QtyAvailable, "110")

	shipment, err := models.CreateShipment(ctx, &models.NewShipment{
		ShipmentNumber: "SHP-001",
		SalesOrderId:   so.ID,
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if _, err := workflow.StartPicking(ctx, shipment.ID); err != nil {
		t.Fatalf("StartPicking: %v", err)
	}
	if _, err := workflow.PackShipment(ctx, shipment.ID); err != nil {
		t.Fatalf("PackShipment: %v", err)
	}
	if _, err := workflow.ShipShipment(ctx, shipment.ID, "idem-shp-001"); err != nil {
		t.Fatalf("ShipShipment: %v", err)
	}

	balance = env.balance(t, variant.ID)
	requireQty(t, "on hand after ship", balance.QtyOnHand, "110")
	requireQty(t, "reserved after ship", balance.QtyReserved, "0")

	// the early lot was consumed, the late lot untouched
	db := config.GetDB()
	var lots []models.InventoryLot
	if err := db.WithContext(ctx).
		Where("business_id = ? AND variant_id = ?", env.businessId, variant.ID).
		Order("lot_number asc").Find(&lots).Error; err != nil {
		t.Fatalf("fetch lots: %v", err)
	}
	if len(lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(lots))
	}
	requireQty(t, "LOT-EARLY on hand", lots[0].QtyOnHand, "10")
	requireQty(t, "LOT-LATE on hand", lots[1].QtyOnHand, "100")

	// sales order fully shipped -> terminal
	so2, _ := models.GetSalesOrder(ctx, so.ID)
	if so2.Status != models.SalesOrderStatusShipped {
		t.Fatalf("expected sales order shipped, got %s", so2.Status)
	}

	verification, err := workflow.VerifySlot(ctx, env.warehouse.ID, 0, variant.ID)
	if err != nil {
		t.Fatalf("VerifySlot: %v", err)
	}
	if !verification.IsAccurate {
		t.Fatalf("balance should reconcile with ledger, variance=%s", verification.Variance)
	}
}

func TestPartialAllocationReportsShortfall(t *testing.T) {
	env := setupInventoryTestEnv(t)
	ctx := env.ctx

	variant := env.createVariant(t, "SKU-SHORT", false)
	env.seedStock(t, variant.ID, "", nil, "15")

	// Warm the business-wide summary cache so the assertions below catch a
	// stale entry surviving a reservation change.
	if _, err := models.GetStockSummary(ctx, variant.ID, 0); err != nil {
		t.Fatalf("GetStockSummary warmup: %v", err)
	}

	so, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		OrderNumber: "SO-002",
		WarehouseId: env.warehouse.ID,
		Details: []models.NewSalesOrderDetail{
			{VariantId: variant.ID, OrderedQty: dec(t, "40")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}

	result, err := workflow.AllocateStock(ctx, &workflow.AllocateStockInput{
		SalesOrderId:       so.ID,
		SalesOrderDetailId: so.Details[0].ID,
	})
	if err != nil {
		t.Fatalf("partial allocation must not error: %v", err)
	}
	requireQty(t, "allocated", result.AllocatedQty, "15")
	requireQty(t, "shortfall", result.Shortfall, "25")

	balance := env.balance(t, variant.ID)
	requireQty(t, "reserved", balance.QtyReserved, "15")
	requireQty(t, "available", balance.QtyAvailable, "0")

	summary, err := models.GetStockSummary(ctx, variant.ID, 0)
	if err != nil {
		t.Fatalf("GetStockSummary after allocation: %v", err)
	}
	requireQty(t, "summary reserved after allocation", summary.QtyReserved, "15")
	requireQty(t, "summary available after allocation", summary.QtyAvailable, "0")

	// Partially release, then re-allocate after restock: the line's allocated
	// total must track both movements, not the last absolute write.
	if _, err := workflow.ReleaseReservation(ctx, &workflow.ReleaseReservationInput{
		ReservationId: result.Reservations[0].ID,
		Qty:           dec(t, "5"),
	}); err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}

	so2, _ := models.GetSalesOrder(ctx, so.ID)
	requireQty(t, "allocated after partial release", so2.Details[0].AllocatedQty, "10")

	summary, err = models.GetStockSummary(ctx, variant.ID, 0)
	if err != nil {
		t.Fatalf("GetStockSummary after release: %v", err)
	}
	requireQty(t, "summary reserved after release", summary.QtyReserved, "10")

	env.seedStock(t, variant.ID, "", nil, "30")
	result, err = workflow.AllocateStock(ctx, &workflow.AllocateStockInput{
		SalesOrderId:       so.ID,
		SalesOrderDetailId: so.Details[0].ID,
	})
	if err != nil {
		t.Fatalf("second allocation: %v", err)
	}
	requireQty(t, "second allocation takes the rest", result.AllocatedQty, "30")

	so3, _ := models.GetSalesOrder(ctx, so.ID)
	requireQty(t, "allocated fully tracked", so3.Details[0].AllocatedQty, "40")
}

func TestAdjustmentInsufficientStockLeavesLedgerUntouched(t *testing.T) {
	env := setupInventoryTestEnv(t)
	ctx := env.ctx

	variant := env.createVariant(t, "SKU-ADJ", false)
	env.seedStock(t, variant.ID, "", nil, "5")

	adjustment, err := models.CreateStockAdjustment(ctx, &models.NewStockAdjustment{
		AdjustmentNumber: "ADJ-001",
		WarehouseId:      env.warehouse.ID,
		Reason:           "damage write-off",
		Details: []models.NewStockAdjustmentDetail{
			{VariantId: variant.ID, QtyDelta: dec(t, "-10")},
		},
	})
	if err != nil {
		t.Fatalf("CreateStockAdjustment: %v", err)
	}

	// posting before approval is a state violation
	_, err = workflow.PostAdjustment(ctx, adjustment.ID, "")
	if !errors.Is(err, models.ErrIllegalTransition) {
		t.Fatalf("expected state violation posting a draft adjustment, got: %v", err)
	}

	if _, err := workflow.SubmitAdjustment(ctx, adjustment.ID); err != nil {
		t.Fatalf("SubmitAdjustment: %v", err)
	}
	if _, err := workflow.ApproveAdjustment(ctx, adjustment.ID); err != nil {
		t.Fatalf("ApproveAdjustment: %v", err)
	}

	_, err = workflow.PostAdjustment(ctx, adjustment.ID, "")
	if !errors.Is(err, models.ErrBusinessRule) {
		t.Fatalf("expected insufficient stock rejection, got: %v", err)
	}

	// zero partial effect
	requireQty(t, "on hand unchanged", env.balance(t, variant.ID).QtyOnHand, "5")
	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&models.StockMovement{}).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?",
			env.businessId, models.StockReferenceTypeAdjustment, adjustment.ID).
		Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no adjustment movements, got %d", count)
	}
}

func TestStockCountUnderVariancePostsCompensatingMovement(t *testing.T) {
	env := setupInventoryTestEnv(t)
	ctx := env.ctx

	variant := env.createVariant(t, "SKU-COUNT", false)
	env.seedStock(t, variant.ID, "", nil, "50")

	count, err := models.CreateStockCount(ctx, &models.NewStockCount{
		CountNumber: "CNT-001",
		WarehouseId: env.warehouse.ID,
	})
	if err != nil {
		t.Fatalf("CreateStockCount: %v", err)
	}

	started, err := workflow.StartStockCount(ctx, count.ID)
	if err != nil {
		t.Fatalf("StartStockCount: %v", err)
	}
	if len(started.Details) != 1 {
		t.Fatalf("expected one seeded line, got %d", len(started.Details))
	}
	requireQty(t, "expected qty snapshot", started.Details[0].ExpectedQty, "50")

	line, err := workflow.RecordCountLine(ctx, &workflow.RecordCountLineInput{
		StockCountId: count.ID,
		DetailId:     started.Details[0].ID,
		CountedQty:   dec(t, "45"),
	})
	if err != nil {
		t.Fatalf("RecordCountLine: %v", err)
	}
	requireQty(t, "variance", line.Variance, "-5")
	if line.Result != models.CountLineResultUnder {
		t.Fatalf("expected under, got %s", line.Result)
	}

	if _, err := workflow.CompleteStockCount(ctx, count.ID); err != nil {
		t.Fatalf("CompleteStockCount: %v", err)
	}
	if _, err := workflow.ReviewStockCount(ctx, count.ID); err != nil {
		t.Fatalf("ReviewStockCount: %v", err)
	}
	if _, err := workflow.PostStockCount(ctx, count.ID, "idem-cnt-001"); err != nil {
		t.Fatalf("PostStockCount: %v", err)
	}

	requireQty(t, "on hand after count", env.balance(t, variant.ID).QtyOnHand, "45")

	db := config.GetDB()
	var movements []models.StockMovement
	if err := db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?",
			env.businessId, models.StockReferenceTypeCount, count.ID).
		Find(&movements).Error; err != nil {
		t.Fatalf("fetch count movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected one compensating movement, got %d", len(movements))
	}
	requireQty(t, "compensating movement qty", movements[0].Qty, "-5")

	verification, err := workflow.VerifySlot(ctx, env.warehouse.ID, 0, variant.ID)
	if err != nil {
		t.Fatalf("VerifySlot: %v", err)
	}
	if !verification.IsAccurate {
		t.Fatalf("balance should reconcile with ledger, variance=%s", verification.Variance)
	}
}

func TestTransferMovesStockBetweenWarehouses(t *testing.T) {
	env := setupInventoryTestEnv(t)
	ctx := env.ctx

	variant := env.createVariant(t, "SKU-TRF", false)
	env.seedStock(t, variant.ID, "", nil, "30")

	dest, err := models.CreateWarehouse(ctx, &models.NewWarehouse{Name: "East Warehouse"})
	if err != nil {
		t.Fatalf("CreateWarehouse: %v", err)
	}

	transfer, err := models.CreateTransferOrder(ctx, &models.NewTransferOrder{
		TransferNumber:    "TRF-001",
		SourceWarehouseId: env.warehouse.ID,
		DestWarehouseId:   dest.ID,
		Details: []models.NewTransferOrderDetail{
			{VariantId: variant.ID, RequestedQty: dec(t, "10")},
		},
	})
	if err != nil {
		t.Fatalf("CreateTransferOrder: %v", err)
	}

	// dispatch before approval is a state violation
	if _, err := workflow.DispatchTransfer(ctx, transfer.ID, ""); !errors.Is(err, models.ErrIllegalTransition) {
		t.Fatalf("expected state violation, got: %v", err)
	}

	if _, err := workflow.ApproveTransfer(ctx, transfer.ID); err != nil {
		t.Fatalf("ApproveTransfer: %v", err)
	}
	if _, err := workflow.DispatchTransfer(ctx, transfer.ID, "idem-trf-001"); err != nil {
		t.Fatalf("DispatchTransfer: %v", err)
	}

	db := config.GetDB()
	sourceBalance := env.balance(t, variant.ID)
	requireQty(t, "source on hand in transit", sourceBalance.QtyOnHand, "20")

	destBalance, err := models.GetStockBalance(db.WithContext(ctx), models.StockBalanceKey{
		BusinessId:  env.businessId,
		WarehouseId: dest.ID,
		VariantId:   variant.ID,
	})
	if err != nil {
		t.Fatalf("dest balance: %v", err)
	}
	requireQty(t, "dest incoming in transit", destBalance.QtyIncoming, "10")
	requireQty(t, "dest on hand in transit", destBalance.QtyOnHand, "0")

	// receive short: 8 of the 10 arrive
	if _, err := workflow.ReceiveTransfer(ctx, &workflow.ReceiveTransferInput{
		TransferId: transfer.ID,
		Lines: []workflow.ReceiveTransferLine{
			{DetailId: transfer.Details[0].ID, ReceivedQty: dec(t, "8")},
		},
	}); err != nil {
		t.Fatalf("ReceiveTransfer: %v", err)
	}

	destBalance, _ = models.GetStockBalance(db.WithContext(ctx), models.StockBalanceKey{
		BusinessId:  env.businessId,
		WarehouseId: dest.ID,
		VariantId:   variant.ID,
	})
	requireQty(t, "dest on hand received", destBalance.QtyOnHand, "8")
	requireQty(t, "dest incoming cleared", destBalance.QtyIncoming, "0")

	transfer2, _ := models.GetTransferOrder(ctx, transfer.ID)
	if transfer2.Status != models.TransferStatusReceived {
		t.Fatalf("expected transfer received, got %s", transfer2.Status)
	}
	requireQty(t, "shipped vs received stays visible", transfer2.Details[0].ShippedQty, "10")
	requireQty(t, "received qty", transfer2.Details[0].ReceivedQty, "8")
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("wms-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("wms-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=wms_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
