package models

import (
	"context"
	"errors"
	"time"

	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

// Location is an optional bin/zone subdivision of a warehouse. Balances and
// lots reference locations by id with 0 meaning "warehouse level, no bin".
type Location struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	WarehouseId int       `gorm:"not null;index" json:"warehouse_id" binding:"required"`
	Code        string    `gorm:"size:50;not null" json:"code" binding:"required"`
	Description string    `gorm:"size:255" json:"description"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLocation struct {
	WarehouseId int    `json:"warehouse_id" binding:"required"`
	Code        string `json:"code" binding:"required"`
	Description string `json:"description"`
}

func CreateLocation(ctx context.Context, input *NewLocation) (*Location, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[Location](ctx, businessId, "warehouse_id = ? AND code = ?", input.WarehouseId, input.Code)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, NewValidationError("location code %s already exists in warehouse %d", input.Code, input.WarehouseId)
	}

	location := Location{
		BusinessId:  businessId,
		WarehouseId: input.WarehouseId,
		Code:        input.Code,
		Description: input.Description,
		IsActive:    utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func GetLocation(ctx context.Context, id int) (*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Location](ctx, businessId, id)
}

func ListLocations(ctx context.Context, warehouseId int) ([]*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var locations []*Location
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if warehouseId > 0 {
		dbCtx = dbCtx.Where("warehouse_id = ?", warehouseId)
	}
	if err := dbCtx.Order("code asc").Find(&locations).Error; err != nil {
		return nil, err
	}
	return locations, nil
}
