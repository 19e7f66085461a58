package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/models"
	"github.com/stocklane/wms_backend/utils"
	"github.com/stocklane/wms_backend/workflow"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// sessionMiddleware lifts the caller's identity headers into the request
// context. Authentication itself happens at the gateway; this service only
// needs to know which tenant and user it is acting for.
func sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if businessId := c.GetHeader("x-business-id"); businessId != "" {
			ctx = utils.SetBusinessIdInContext(ctx, businessId)
		}
		if userId := c.GetHeader("x-user-id"); userId != "" {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if userName := c.GetHeader("x-user-name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// respondError maps the three error kinds onto HTTP statuses so API callers
// can branch the same way internal callers branch on the sentinels.
func respondError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(err)})
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrBusinessRule):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrIdempotencyInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) int {
	v, _ := strconv.Atoi(c.Query(name))
	return v
}

func registerRoutes(r *gin.Engine) {

	api := r.Group("/api/v1")

	// catalog & topology
	api.POST("/businesses", func(c *gin.Context) {
		var input models.NewBusiness
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		business, err := models.CreateBusiness(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, business)
	})
	api.POST("/units", func(c *gin.Context) {
		var input models.NewProductUnit
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		unit, err := models.CreateProductUnit(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, unit)
	})
	api.POST("/variants", func(c *gin.Context) {
		var input models.NewProductVariant
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		variant, err := models.CreateProductVariant(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, variant)
	})
	api.GET("/variants", func(c *gin.Context) {
		variants, err := models.ListProductVariants(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, variants)
	})
	api.POST("/warehouses", func(c *gin.Context) {
		var input models.NewWarehouse
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		warehouse, err := models.CreateWarehouse(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, warehouse)
	})
	api.POST("/locations", func(c *gin.Context) {
		var input models.NewLocation
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		location, err := models.CreateLocation(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, location)
	})

	// stock reads
	api.GET("/stock/summary/:variantId", func(c *gin.Context) {
		variantId, ok := pathId(c, "variantId")
		if !ok {
			return
		}
		summary, err := models.GetStockSummary(c.Request.Context(), variantId, queryInt(c, "warehouse_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
	api.GET("/stock/lots/:variantId", func(c *gin.Context) {
		variantId, ok := pathId(c, "variantId")
		if !ok {
			return
		}
		lots, err := models.ListLots(c.Request.Context(), variantId, queryInt(c, "warehouse_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, lots)
	})
	api.GET("/stock/verify", func(c *gin.Context) {
		verification, err := workflow.VerifySlot(c.Request.Context(),
			queryInt(c, "warehouse_id"), queryInt(c, "location_id"), queryInt(c, "variant_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, verification)
	})
	api.POST("/stock/reconcile", func(c *gin.Context) {
		report, err := workflow.RunReconciliation(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	// purchasing
	api.POST("/purchase-orders", func(c *gin.Context) {
		var input models.NewPurchaseOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		order, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	})
	api.POST("/purchase-orders/:id/issue", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		order, err := workflow.IssuePurchaseOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})
	api.POST("/goods-receipts", func(c *gin.Context) {
		var input models.NewGoodsReceipt
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		receipt, err := models.CreateGoodsReceipt(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, receipt)
	})
	api.POST("/goods-receipts/:id/lines", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input workflow.ReceiveGoodsReceiptLineInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		input.GoodsReceiptId = id
		receipt, err := workflow.ReceiveGoodsReceiptLine(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})
	api.POST("/goods-receipts/:id/complete", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		receipt, err := workflow.CompleteGoodsReceipt(c.Request.Context(), id, c.GetHeader("x-idempotency-key"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})

	// sales & fulfillment
	api.POST("/sales-orders", func(c *gin.Context) {
		var input models.NewSalesOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		order, err := models.CreateSalesOrder(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	})
	api.POST("/allocations", func(c *gin.Context) {
		var input workflow.AllocateStockInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		result, err := workflow.AllocateStock(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
	api.POST("/reservations/:id/release", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input workflow.ReleaseReservationInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		input.ReservationId = id
		reservation, err := workflow.ReleaseReservation(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, reservation)
	})
	api.POST("/shipments", func(c *gin.Context) {
		var input models.NewShipment
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		shipment, err := models.CreateShipment(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, shipment)
	})
	api.POST("/shipments/:id/pick", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		shipment, err := workflow.StartPicking(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, shipment)
	})
	api.POST("/shipments/:id/pack", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		shipment, err := workflow.PackShipment(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, shipment)
	})
	api.POST("/shipments/:id/ship", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		shipment, err := workflow.ShipShipment(c.Request.Context(), id, c.GetHeader("x-idempotency-key"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, shipment)
	})

	// adjustments
	api.POST("/adjustments", func(c *gin.Context) {
		var input models.NewStockAdjustment
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		adjustment, err := models.CreateStockAdjustment(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, adjustment)
	})
	adjustmentAction := func(fn func(context.Context, int) (*models.StockAdjustment, error)) gin.HandlerFunc {
		return func(c *gin.Context) {
			id, ok := pathId(c, "id")
			if !ok {
				return
			}
			adjustment, err := fn(c.Request.Context(), id)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, adjustment)
		}
	}
	api.POST("/adjustments/:id/submit", adjustmentAction(workflow.SubmitAdjustment))
	api.POST("/adjustments/:id/approve", adjustmentAction(workflow.ApproveAdjustment))
	api.POST("/adjustments/:id/reject", adjustmentAction(workflow.RejectAdjustment))
	api.POST("/adjustments/:id/cancel", adjustmentAction(workflow.CancelAdjustment))
	api.POST("/adjustments/:id/post", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		adjustment, err := workflow.PostAdjustment(c.Request.Context(), id, c.GetHeader("x-idempotency-key"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, adjustment)
	})

	// stock counts
	api.POST("/stock-counts", func(c *gin.Context) {
		var input models.NewStockCount
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		count, err := models.CreateStockCount(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, count)
	})
	countAction := func(fn func(context.Context, int) (*models.StockCount, error)) gin.HandlerFunc {
		return func(c *gin.Context) {
			id, ok := pathId(c, "id")
			if !ok {
				return
			}
			count, err := fn(c.Request.Context(), id)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, count)
		}
	}
	api.POST("/stock-counts/:id/start", countAction(workflow.StartStockCount))
	api.POST("/stock-counts/:id/complete", countAction(workflow.CompleteStockCount))
	api.POST("/stock-counts/:id/review", countAction(workflow.ReviewStockCount))
	api.POST("/stock-counts/:id/lines", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input workflow.RecordCountLineInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		input.StockCountId = id
		line, err := workflow.RecordCountLine(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, line)
	})
	api.POST("/stock-counts/:id/post", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		count, err := workflow.PostStockCount(c.Request.Context(), id, c.GetHeader("x-idempotency-key"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, count)
	})

	// transfers
	api.POST("/transfers", func(c *gin.Context) {
		var input models.NewTransferOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		transfer, err := models.CreateTransferOrder(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, transfer)
	})
	api.POST("/transfers/:id/approve", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		transfer, err := workflow.ApproveTransfer(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, transfer)
	})
	api.POST("/transfers/:id/dispatch", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		transfer, err := workflow.DispatchTransfer(c.Request.Context(), id, c.GetHeader("x-idempotency-key"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, transfer)
	})
	api.POST("/transfers/:id/receive", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input workflow.ReceiveTransferInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		input.TransferId = id
		input.IdempotencyKey = c.GetHeader("x-idempotency-key")
		transfer, err := workflow.ReceiveTransfer(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, transfer)
	})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist; in development allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-business-id", "x-idempotency-key")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(sessionMiddleware())
	r.Use(gin.Recovery())
	registerRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateDatabase(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{"field": "startup"}).Info("listening on :" + port)

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Panic(err.Error())
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithFields(logrus.Fields{"field": "shutdown"}).Error(err.Error())
		}
	}
}
