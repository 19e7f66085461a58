package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

type PurchaseOrder struct {
	ID           int                   `gorm:"primary_key" json:"id"`
	BusinessId   string                `gorm:"not null;index" json:"business_id"`
	OrderNumber  string                `gorm:"size:50;not null" json:"order_number"`
	SupplierName string                `gorm:"size:100" json:"supplier_name"`
	WarehouseId  int                   `gorm:"not null" json:"warehouse_id"`
	Status       DocumentStatus        `gorm:"size:20;not null;default:draft" json:"status"`
	OrderDate    time.Time             `gorm:"not null" json:"order_date"`
	Note         string                `gorm:"size:255" json:"note"`
	Details      []PurchaseOrderDetail `gorm:"foreignKey:PurchaseOrderId" json:"details"`
	CreatedAt    time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"not null;index" json:"purchase_order_id"`
	VariantId       int             `gorm:"not null" json:"variant_id"`
	OrderedQty      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"ordered_qty"`
	ReceivedQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"received_qty"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
}

type NewPurchaseOrder struct {
	OrderNumber  string                   `json:"order_number" binding:"required"`
	SupplierName string                   `json:"supplier_name"`
	WarehouseId  int                      `json:"warehouse_id" binding:"required"`
	OrderDate    time.Time                `json:"order_date"`
	Note         string                   `json:"note"`
	Details      []NewPurchaseOrderDetail `json:"details" binding:"required,min=1,dive"`
}

type NewPurchaseOrderDetail struct {
	VariantId  int             `json:"variant_id" binding:"required"`
	OrderedQty decimal.Decimal `json:"ordered_qty" binding:"required"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[PurchaseOrder](ctx, businessId, "order_number", input.OrderNumber, 0); err != nil {
		return nil, err
	}

	// One line per variant: goods receipts accumulate against the order line
	// by variant, so a second line for the same variant would never receive.
	variantIds := make([]int, 0, len(input.Details))
	seen := make(map[int]bool, len(input.Details))
	for _, detail := range input.Details {
		if !detail.OrderedQty.IsPositive() {
			return nil, NewValidationError("ordered quantity must be positive")
		}
		if seen[detail.VariantId] {
			return nil, NewValidationError("variant %d appears on more than one line", detail.VariantId)
		}
		seen[detail.VariantId] = true
		variantIds = append(variantIds, detail.VariantId)
	}
	if err := utils.ValidateResourcesId[ProductVariant, int](ctx, businessId, variantIds); err != nil {
		return nil, err
	}

	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = utils.PostingTimeOrNow(ctx)
	}

	order := PurchaseOrder{
		BusinessId:   businessId,
		OrderNumber:  input.OrderNumber,
		SupplierName: input.SupplierName,
		WarehouseId:  input.WarehouseId,
		Status:       PurchaseOrderStatusDraft,
		OrderDate:    orderDate,
		Note:         input.Note,
	}
	for _, detail := range input.Details {
		order.Details = append(order.Details, PurchaseOrderDetail{
			VariantId:  detail.VariantId,
			OrderedQty: detail.OrderedQty,
			UnitCost:   detail.UnitCost,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[PurchaseOrder](ctx, businessId, id, "Details")
}

func ListPurchaseOrders(ctx context.Context) ([]*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[PurchaseOrder](ctx, businessId, "Details")
}

// IsFullyReceived reports whether every line has reached its ordered quantity.
func (o *PurchaseOrder) IsFullyReceived() bool {
	for _, detail := range o.Details {
		if detail.ReceivedQty.LessThan(detail.OrderedQty) {
			return false
		}
	}
	return len(o.Details) > 0
}
