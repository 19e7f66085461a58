package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

// TransferOrder moves stock between two warehouses. Dispatch posts the
// outbound movements at the source and flags the quantity incoming at the
// destination; receipt posts the inbound movements, where received quantity
// defaults to the shipped quantity but may differ per line.
type TransferOrder struct {
	ID                int                   `gorm:"primary_key" json:"id"`
	BusinessId        string                `gorm:"not null;index" json:"business_id"`
	TransferNumber    string                `gorm:"size:50;not null" json:"transfer_number"`
	SourceWarehouseId int                   `gorm:"not null" json:"source_warehouse_id"`
	DestWarehouseId   int                   `gorm:"not null" json:"dest_warehouse_id"`
	Status            DocumentStatus        `gorm:"size:20;not null;default:draft" json:"status"`
	TransferDate      time.Time             `gorm:"not null" json:"transfer_date"`
	Note              string                `gorm:"size:255" json:"note"`
	Details           []TransferOrderDetail `gorm:"foreignKey:TransferOrderId" json:"details"`
	CreatedAt         time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type TransferOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TransferOrderId int             `gorm:"not null;index" json:"transfer_order_id"`
	VariantId       int             `gorm:"not null" json:"variant_id"`
	LotNumber       string          `gorm:"size:100;default:''" json:"lot_number"`
	ExpiryDate      *time.Time      `gorm:"type:date" json:"expiry_date"`
	RequestedQty    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"requested_qty"`
	ShippedQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shipped_qty"`
	ReceivedQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"received_qty"`
}

type NewTransferOrder struct {
	TransferNumber    string                   `json:"transfer_number" binding:"required"`
	SourceWarehouseId int                      `json:"source_warehouse_id" binding:"required"`
	DestWarehouseId   int                      `json:"dest_warehouse_id" binding:"required"`
	TransferDate      time.Time                `json:"transfer_date"`
	Note              string                   `json:"note"`
	Details           []NewTransferOrderDetail `json:"details" binding:"required,min=1,dive"`
}

type NewTransferOrderDetail struct {
	VariantId    int             `json:"variant_id" binding:"required"`
	LotNumber    string          `json:"lot_number"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	RequestedQty decimal.Decimal `json:"requested_qty" binding:"required"`
}

func CreateTransferOrder(ctx context.Context, input *NewTransferOrder) (*TransferOrder, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if input.SourceWarehouseId == input.DestWarehouseId {
		return nil, NewValidationError("source and destination warehouses must differ")
	}
	if err := utils.ValidateResourcesId[Warehouse, int](ctx, businessId, []int{input.SourceWarehouseId, input.DestWarehouseId}); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[TransferOrder](ctx, businessId, "transfer_number", input.TransferNumber, 0); err != nil {
		return nil, err
	}

	variantIds := make([]int, 0, len(input.Details))
	for _, detail := range input.Details {
		if !detail.RequestedQty.IsPositive() {
			return nil, NewValidationError("requested quantity must be positive")
		}
		variantIds = append(variantIds, detail.VariantId)
	}
	if err := utils.ValidateResourcesId[ProductVariant, int](ctx, businessId, variantIds); err != nil {
		return nil, err
	}

	transferDate := input.TransferDate
	if transferDate.IsZero() {
		transferDate = utils.PostingTimeOrNow(ctx)
	}

	transfer := TransferOrder{
		BusinessId:        businessId,
		TransferNumber:    input.TransferNumber,
		SourceWarehouseId: input.SourceWarehouseId,
		DestWarehouseId:   input.DestWarehouseId,
		Status:            TransferStatusDraft,
		TransferDate:      transferDate,
		Note:              input.Note,
	}
	for _, detail := range input.Details {
		transfer.Details = append(transfer.Details, TransferOrderDetail{
			VariantId:    detail.VariantId,
			LotNumber:    detail.LotNumber,
			ExpiryDate:   detail.ExpiryDate,
			RequestedQty: detail.RequestedQty,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&transfer).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

func GetTransferOrder(ctx context.Context, id int) (*TransferOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[TransferOrder](ctx, businessId, id, "Details")
}
