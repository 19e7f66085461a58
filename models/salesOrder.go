package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

// SalesOrder is the demand document shipments fulfill. Allocation reserves
// against its lines; shipping accumulates ShippedQty until the order reaches
// its terminal shipped status.
type SalesOrder struct {
	ID           int                `gorm:"primary_key" json:"id"`
	BusinessId   string             `gorm:"not null;index" json:"business_id"`
	OrderNumber  string             `gorm:"size:50;not null" json:"order_number"`
	CustomerName string             `gorm:"size:100" json:"customer_name"`
	WarehouseId  int                `gorm:"not null" json:"warehouse_id"`
	Status       DocumentStatus     `gorm:"size:20;not null;default:open" json:"status"`
	OrderDate    time.Time          `gorm:"not null" json:"order_date"`
	Note         string             `gorm:"size:255" json:"note"`
	Details      []SalesOrderDetail `gorm:"foreignKey:SalesOrderId" json:"details"`
	CreatedAt    time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type SalesOrderDetail struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SalesOrderId int             `gorm:"not null;index" json:"sales_order_id"`
	VariantId    int             `gorm:"not null" json:"variant_id"`
	OrderedQty   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"ordered_qty"`
	AllocatedQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"allocated_qty"`
	ShippedQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shipped_qty"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
}

type NewSalesOrder struct {
	OrderNumber  string                `json:"order_number" binding:"required"`
	CustomerName string                `json:"customer_name"`
	WarehouseId  int                   `json:"warehouse_id" binding:"required"`
	OrderDate    time.Time             `json:"order_date"`
	Note         string                `json:"note"`
	Details      []NewSalesOrderDetail `json:"details" binding:"required,min=1,dive"`
}

type NewSalesOrderDetail struct {
	VariantId  int             `json:"variant_id" binding:"required"`
	OrderedQty decimal.Decimal `json:"ordered_qty" binding:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

func CreateSalesOrder(ctx context.Context, input *NewSalesOrder) (*SalesOrder, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[SalesOrder](ctx, businessId, "order_number", input.OrderNumber, 0); err != nil {
		return nil, err
	}

	variantIds := make([]int, 0, len(input.Details))
	for _, detail := range input.Details {
		if !detail.OrderedQty.IsPositive() {
			return nil, NewValidationError("ordered quantity must be positive")
		}
		variantIds = append(variantIds, detail.VariantId)
	}
	if err := utils.ValidateResourcesId[ProductVariant, int](ctx, businessId, variantIds); err != nil {
		return nil, err
	}

	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = utils.PostingTimeOrNow(ctx)
	}

	order := SalesOrder{
		BusinessId:   businessId,
		OrderNumber:  input.OrderNumber,
		CustomerName: input.CustomerName,
		WarehouseId:  input.WarehouseId,
		Status:       SalesOrderStatusOpen,
		OrderDate:    orderDate,
		Note:         input.Note,
	}
	for _, detail := range input.Details {
		order.Details = append(order.Details, SalesOrderDetail{
			VariantId:  detail.VariantId,
			OrderedQty: detail.OrderedQty,
			UnitPrice:  detail.UnitPrice,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[SalesOrder](ctx, businessId, id, "Details")
}

// IsFullyShipped reports whether cumulative shipped has reached ordered on
// every line.
func (o *SalesOrder) IsFullyShipped() bool {
	for _, detail := range o.Details {
		if detail.ShippedQty.LessThan(detail.OrderedQty) {
			return false
		}
	}
	return len(o.Details) > 0
}
