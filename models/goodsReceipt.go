package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

// GoodsReceipt records inbound stock against an issued purchase order. Lines
// accumulate while the receipt is open; completion posts the GRN movements.
type GoodsReceipt struct {
	ID              int                  `gorm:"primary_key" json:"id"`
	BusinessId      string               `gorm:"not null;index" json:"business_id"`
	ReceiptNumber   string               `gorm:"size:50;not null" json:"receipt_number"`
	PurchaseOrderId int                  `gorm:"not null;index" json:"purchase_order_id"`
	WarehouseId     int                  `gorm:"not null" json:"warehouse_id"`
	Status          DocumentStatus       `gorm:"size:20;not null;default:draft" json:"status"`
	ReceiptDate     time.Time            `gorm:"not null" json:"receipt_date"`
	Note            string               `gorm:"size:255" json:"note"`
	Details         []GoodsReceiptDetail `gorm:"foreignKey:GoodsReceiptId" json:"details"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type GoodsReceiptDetail struct {
	ID             int             `gorm:"primary_key" json:"id"`
	GoodsReceiptId int             `gorm:"not null;index" json:"goods_receipt_id"`
	VariantId      int             `gorm:"not null" json:"variant_id"`
	LocationId     int             `gorm:"not null;default:0" json:"location_id"`
	LotNumber      string          `gorm:"size:100;default:''" json:"lot_number"`
	ExpiryDate     *time.Time      `gorm:"type:date" json:"expiry_date"`
	ReceivedQty    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"received_qty"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
}

type NewGoodsReceipt struct {
	ReceiptNumber   string    `json:"receipt_number" binding:"required"`
	PurchaseOrderId int       `json:"purchase_order_id" binding:"required"`
	ReceiptDate     time.Time `json:"receipt_date"`
	Note            string    `json:"note"`
}

func CreateGoodsReceipt(ctx context.Context, input *NewGoodsReceipt) (*GoodsReceipt, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	order, err := GetPurchaseOrder(ctx, input.PurchaseOrderId)
	if err != nil {
		return nil, err
	}
	if order.Status != PurchaseOrderStatusIssued && order.Status != PurchaseOrderStatusPartial {
		return nil, NewBusinessRuleError("purchase order %d is %s; only issued or partially received orders can be received against", order.ID, order.Status)
	}

	if err := utils.ValidateUnique[GoodsReceipt](ctx, businessId, "receipt_number", input.ReceiptNumber, 0); err != nil {
		return nil, err
	}

	receiptDate := input.ReceiptDate
	if receiptDate.IsZero() {
		receiptDate = utils.PostingTimeOrNow(ctx)
	}

	receipt := GoodsReceipt{
		BusinessId:      businessId,
		ReceiptNumber:   input.ReceiptNumber,
		PurchaseOrderId: order.ID,
		WarehouseId:     order.WarehouseId,
		Status:          GoodsReceiptStatusDraft,
		ReceiptDate:     receiptDate,
		Note:            input.Note,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&receipt).Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

func GetGoodsReceipt(ctx context.Context, id int) (*GoodsReceipt, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[GoodsReceipt](ctx, businessId, id, "Details")
}
