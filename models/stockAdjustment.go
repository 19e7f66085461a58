package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

// StockAdjustment corrects on-hand quantities outside the document flows:
// damage, spoilage, found stock. Posting is gated behind approval; negative
// lines are pre-validated against available stock at posting time.
type StockAdjustment struct {
	ID               int                     `gorm:"primary_key" json:"id"`
	BusinessId       string                  `gorm:"not null;index" json:"business_id"`
	AdjustmentNumber string                  `gorm:"size:50;not null" json:"adjustment_number"`
	WarehouseId      int                     `gorm:"not null" json:"warehouse_id"`
	Status           DocumentStatus          `gorm:"size:20;not null;default:draft" json:"status"`
	Reason           string                  `gorm:"size:255" json:"reason"`
	AdjustmentDate   time.Time               `gorm:"not null" json:"adjustment_date"`
	ApprovedBy       string                  `gorm:"size:100" json:"approved_by"`
	Details          []StockAdjustmentDetail `gorm:"foreignKey:StockAdjustmentId" json:"details"`
	CreatedAt        time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

type StockAdjustmentDetail struct {
	ID                int             `gorm:"primary_key" json:"id"`
	StockAdjustmentId int             `gorm:"not null;index" json:"stock_adjustment_id"`
	VariantId         int             `gorm:"not null" json:"variant_id"`
	LocationId        int             `gorm:"not null;default:0" json:"location_id"`
	LotNumber         string          `gorm:"size:100;default:''" json:"lot_number"`
	QtyDelta          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Note              string          `gorm:"size:255" json:"note"`
}

type NewStockAdjustment struct {
	AdjustmentNumber string                     `json:"adjustment_number" binding:"required"`
	WarehouseId      int                        `json:"warehouse_id" binding:"required"`
	Reason           string                     `json:"reason" binding:"required"`
	AdjustmentDate   time.Time                  `json:"adjustment_date"`
	Details          []NewStockAdjustmentDetail `json:"details" binding:"required,min=1,dive"`
}

type NewStockAdjustmentDetail struct {
	VariantId  int             `json:"variant_id" binding:"required"`
	LocationId int             `json:"location_id"`
	LotNumber  string          `json:"lot_number"`
	QtyDelta   decimal.Decimal `json:"qty_delta" binding:"required"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Note       string          `json:"note"`
}

func CreateStockAdjustment(ctx context.Context, input *NewStockAdjustment) (*StockAdjustment, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[StockAdjustment](ctx, businessId, "adjustment_number", input.AdjustmentNumber, 0); err != nil {
		return nil, err
	}

	variantIds := make([]int, 0, len(input.Details))
	for _, detail := range input.Details {
		if detail.QtyDelta.IsZero() {
			return nil, NewValidationError("adjustment line delta must be nonzero")
		}
		variantIds = append(variantIds, detail.VariantId)
	}
	if err := utils.ValidateResourcesId[ProductVariant, int](ctx, businessId, variantIds); err != nil {
		return nil, err
	}

	adjustmentDate := input.AdjustmentDate
	if adjustmentDate.IsZero() {
		adjustmentDate = utils.PostingTimeOrNow(ctx)
	}

	adjustment := StockAdjustment{
		BusinessId:       businessId,
		AdjustmentNumber: input.AdjustmentNumber,
		WarehouseId:      input.WarehouseId,
		Status:           AdjustmentStatusDraft,
		Reason:           input.Reason,
		AdjustmentDate:   adjustmentDate,
	}
	for _, detail := range input.Details {
		adjustment.Details = append(adjustment.Details, StockAdjustmentDetail{
			VariantId:  detail.VariantId,
			LocationId: detail.LocationId,
			LotNumber:  detail.LotNumber,
			QtyDelta:   detail.QtyDelta,
			UnitCost:   detail.UnitCost,
			Note:       detail.Note,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&adjustment).Error; err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func GetStockAdjustment(ctx context.Context, id int) (*StockAdjustment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[StockAdjustment](ctx, businessId, id, "Details")
}
