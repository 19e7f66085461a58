package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

// Shipment fulfills a sales order. Lines are created from the order's active
// reservations when picking starts; shipping posts the outbound movements and
// settles those reservations.
type Shipment struct {
	ID             int              `gorm:"primary_key" json:"id"`
	BusinessId     string           `gorm:"not null;index" json:"business_id"`
	ShipmentNumber string           `gorm:"size:50;not null" json:"shipment_number"`
	SalesOrderId   int              `gorm:"not null;index" json:"sales_order_id"`
	WarehouseId    int              `gorm:"not null" json:"warehouse_id"`
	Status         DocumentStatus   `gorm:"size:20;not null;default:draft" json:"status"`
	ShipmentDate   time.Time        `gorm:"not null" json:"shipment_date"`
	Carrier        string           `gorm:"size:100" json:"carrier"`
	TrackingNumber string           `gorm:"size:100" json:"tracking_number"`
	Note           string           `gorm:"size:255" json:"note"`
	Details        []ShipmentDetail `gorm:"foreignKey:ShipmentId" json:"details"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type ShipmentDetail struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ShipmentId    int             `gorm:"not null;index" json:"shipment_id"`
	ReservationId int             `gorm:"not null" json:"reservation_id"`
	VariantId     int             `gorm:"not null" json:"variant_id"`
	LocationId    int             `gorm:"not null;default:0" json:"location_id"`
	LotNumber     string          `gorm:"size:100;default:''" json:"lot_number"`
	ShippedQty    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"shipped_qty"`
}

type NewShipment struct {
	ShipmentNumber string    `json:"shipment_number" binding:"required"`
	SalesOrderId   int       `json:"sales_order_id" binding:"required"`
	ShipmentDate   time.Time `json:"shipment_date"`
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"tracking_number"`
	Note           string    `json:"note"`
}

func CreateShipment(ctx context.Context, input *NewShipment) (*Shipment, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	order, err := GetSalesOrder(ctx, input.SalesOrderId)
	if err != nil {
		return nil, err
	}
	if order.Status == SalesOrderStatusShipped {
		return nil, NewBusinessRuleError("sales order %d is already fully shipped", order.ID)
	}

	if err := utils.ValidateUnique[Shipment](ctx, businessId, "shipment_number", input.ShipmentNumber, 0); err != nil {
		return nil, err
	}

	shipmentDate := input.ShipmentDate
	if shipmentDate.IsZero() {
		shipmentDate = utils.PostingTimeOrNow(ctx)
	}

	shipment := Shipment{
		BusinessId:     businessId,
		ShipmentNumber: input.ShipmentNumber,
		SalesOrderId:   order.ID,
		WarehouseId:    order.WarehouseId,
		Status:         ShipmentStatusDraft,
		ShipmentDate:   shipmentDate,
		Carrier:        input.Carrier,
		TrackingNumber: input.TrackingNumber,
		Note:           input.Note,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func GetShipment(ctx context.Context, id int) (*Shipment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Shipment](ctx, businessId, id, "Details")
}
