package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

// ProductVariant is the stock-keeping unit. Every movement, balance, lot and
// reservation is keyed by variant, never by a looser product grouping.
type ProductVariant struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	Name          string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Sku           string          `gorm:"size:100;not null;index:idx_variant_sku,unique,composite:business_id" json:"sku" binding:"required"`
	Barcode       string          `gorm:"size:100" json:"barcode"`
	UnitId        int             `gorm:"not null" json:"unit_id" binding:"required"`
	Unit          *ProductUnit    `gorm:"foreignKey:UnitId" json:"unit,omitempty"`
	CostPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	SalesPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sales_price"`
	ReorderMinQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reorder_min_qty"`
	IsLotTracked  *bool           `gorm:"not null;default:false" json:"is_lot_tracked"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductVariant struct {
	Name          string          `json:"name" binding:"required"`
	Sku           string          `json:"sku" binding:"required"`
	Barcode       string          `json:"barcode"`
	UnitId        int             `json:"unit_id" binding:"required"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SalesPrice    decimal.Decimal `json:"sales_price"`
	ReorderMinQty decimal.Decimal `json:"reorder_min_qty"`
	IsLotTracked  *bool           `json:"is_lot_tracked"`
}

func CreateProductVariant(ctx context.Context, input *NewProductVariant) (*ProductVariant, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[ProductUnit](ctx, businessId, input.UnitId); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[ProductVariant](ctx, businessId, "sku", input.Sku, 0); err != nil {
		return nil, err
	}
	if input.CostPrice.IsNegative() || input.SalesPrice.IsNegative() || input.ReorderMinQty.IsNegative() {
		return nil, NewValidationError("prices and reorder minimum must not be negative")
	}

	isLotTracked := input.IsLotTracked
	if isLotTracked == nil {
		isLotTracked = utils.NewFalse()
	}

	variant := ProductVariant{
		BusinessId:    businessId,
		Name:          input.Name,
		Sku:           input.Sku,
		Barcode:       input.Barcode,
		UnitId:        input.UnitId,
		CostPrice:     input.CostPrice,
		SalesPrice:    input.SalesPrice,
		ReorderMinQty: input.ReorderMinQty,
		IsLotTracked:  isLotTracked,
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&variant).Error; err != nil {
		return nil, err
	}

	_ = utils.RemoveRedisList[ProductVariant](businessId)

	return &variant, nil
}

type UpdateProductVariantInput struct {
	Name          *string          `json:"name"`
	Barcode       *string          `json:"barcode"`
	CostPrice     *decimal.Decimal `json:"cost_price"`
	SalesPrice    *decimal.Decimal `json:"sales_price"`
	ReorderMinQty *decimal.Decimal `json:"reorder_min_qty"`
	IsActive      *bool            `json:"is_active"`
}

func UpdateProductVariant(ctx context.Context, id int, input *UpdateProductVariantInput) (*ProductVariant, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	variant, err := utils.FetchModel[ProductVariant](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		variant.Name = *input.Name
	}
	if input.Barcode != nil {
		variant.Barcode = *input.Barcode
	}
	if input.CostPrice != nil {
		if input.CostPrice.IsNegative() {
			return nil, NewValidationError("cost price must not be negative")
		}
		variant.CostPrice = *input.CostPrice
	}
	if input.SalesPrice != nil {
		if input.SalesPrice.IsNegative() {
			return nil, NewValidationError("sales price must not be negative")
		}
		variant.SalesPrice = *input.SalesPrice
	}
	if input.ReorderMinQty != nil {
		if input.ReorderMinQty.IsNegative() {
			return nil, NewValidationError("reorder minimum must not be negative")
		}
		variant.ReorderMinQty = *input.ReorderMinQty
	}
	if input.IsActive != nil {
		variant.IsActive = input.IsActive
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(variant).Error; err != nil {
		return nil, err
	}

	_ = utils.RemoveRedisItem[ProductVariant](id)
	_ = utils.RemoveRedisList[ProductVariant](businessId)

	return variant, nil
}

func GetProductVariant(ctx context.Context, id int) (*ProductVariant, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	cached, err := utils.RetrieveRedis[ProductVariant](id)
	if err == nil && cached != nil && cached.BusinessId == businessId {
		return cached, nil
	}

	variant, err := utils.FetchModel[ProductVariant](ctx, businessId, id, "Unit")
	if err != nil {
		return nil, err
	}
	_ = utils.StoreRedis[ProductVariant](variant, id)
	return variant, nil
}

func ListProductVariants(ctx context.Context) ([]*ProductVariant, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[ProductVariant](ctx, businessId, "Unit")
}
