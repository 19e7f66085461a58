package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

// StockCount is a cycle count. Lines are seeded from a point-in-time snapshot
// of expected quantities per slot/lot when counting starts; posting writes one
// compensating COUNT movement per nonzero-variance line.
type StockCount struct {
	ID          int                `gorm:"primary_key" json:"id"`
	BusinessId  string             `gorm:"not null;index" json:"business_id"`
	CountNumber string             `gorm:"size:50;not null" json:"count_number"`
	WarehouseId int                `gorm:"not null" json:"warehouse_id"`
	LocationId  int                `gorm:"not null;default:0" json:"location_id"`
	Status      DocumentStatus     `gorm:"size:20;not null;default:draft" json:"status"`
	CountDate   time.Time          `gorm:"not null" json:"count_date"`
	Note        string             `gorm:"size:255" json:"note"`
	Details     []StockCountDetail `gorm:"foreignKey:StockCountId" json:"details"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockCountDetail is one counted slot. CountedQty stays nil until the line is
// actually counted, which is distinct from counting zero.
type StockCountDetail struct {
	ID           int              `gorm:"primary_key" json:"id"`
	StockCountId int              `gorm:"not null;index" json:"stock_count_id"`
	VariantId    int              `gorm:"not null" json:"variant_id"`
	LocationId   int              `gorm:"not null;default:0" json:"location_id"`
	LotNumber    string           `gorm:"size:100;default:''" json:"lot_number"`
	ExpectedQty  decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"expected_qty"`
	CountedQty   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"counted_qty"`
	Variance     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"variance"`
	Result       CountLineResult  `gorm:"size:20;default:''" json:"result"`
}

type NewStockCount struct {
	CountNumber string    `json:"count_number" binding:"required"`
	WarehouseId int       `json:"warehouse_id" binding:"required"`
	LocationId  int       `json:"location_id"`
	CountDate   time.Time `json:"count_date"`
	Note        string    `json:"note"`
}

func CreateStockCount(ctx context.Context, input *NewStockCount) (*StockCount, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return nil, err
	}
	if input.LocationId > 0 {
		if err := utils.ValidateResourceId[Location](ctx, businessId, input.LocationId); err != nil {
			return nil, err
		}
	}
	if err := utils.ValidateUnique[StockCount](ctx, businessId, "count_number", input.CountNumber, 0); err != nil {
		return nil, err
	}

	countDate := input.CountDate
	if countDate.IsZero() {
		countDate = utils.PostingTimeOrNow(ctx)
	}

	count := StockCount{
		BusinessId:  businessId,
		CountNumber: input.CountNumber,
		WarehouseId: input.WarehouseId,
		LocationId:  input.LocationId,
		Status:      StockCountStatusDraft,
		CountDate:   countDate,
		Note:        input.Note,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&count).Error; err != nil {
		return nil, err
	}
	return &count, nil
}

func GetStockCount(ctx context.Context, id int) (*StockCount, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[StockCount](ctx, businessId, id, "Details")
}

// ClassifyCountVariance maps a counted line to its variance class. "missing"
// is the special case of counting zero where stock was expected; other
// shortfalls are "under".
func ClassifyCountVariance(expected, counted decimal.Decimal) CountLineResult {
	switch {
	case counted.Equal(expected):
		return CountLineResultMatch
	case counted.IsZero() && expected.GreaterThan(decimal.Zero):
		return CountLineResultMissing
	case counted.GreaterThan(expected):
		return CountLineResultOver
	default:
		return CountLineResultUnder
	}
}
