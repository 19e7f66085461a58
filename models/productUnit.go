package models

import (
	"context"
	"errors"
	"time"

	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

type ProductUnit struct {
	ID           int       `gorm:"primary_key" json:"id"`
	BusinessId   string    `gorm:"index;not null" json:"business_id"`
	Name         string    `gorm:"size:50;not null" json:"name" binding:"required"`
	Abbreviation string    `gorm:"size:10;not null" json:"abbreviation" binding:"required"`
	Precision    int       `gorm:"default:0" json:"precision"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductUnit struct {
	Name         string `json:"name" binding:"required"`
	Abbreviation string `json:"abbreviation" binding:"required"`
	Precision    int    `json:"precision"`
}

func CreateProductUnit(ctx context.Context, input *NewProductUnit) (*ProductUnit, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[ProductUnit](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	unit := ProductUnit{
		BusinessId:   businessId,
		Name:         input.Name,
		Abbreviation: input.Abbreviation,
		Precision:    input.Precision,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

func GetProductUnit(ctx context.Context, id int) (*ProductUnit, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[ProductUnit](ctx, businessId, id)
}
