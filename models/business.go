package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stocklane/wms_backend/config"
	"github.com/stocklane/wms_backend/utils"
)

type Business struct {
	ID        uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:100" json:"email"`
	Timezone  string    `gorm:"size:50;default:UTC" json:"timezone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Timezone string `json:"timezone"`
}

// CreateBusiness registers a tenant and seeds its primary warehouse.
func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {

	timezone := input.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	business := Business{
		ID:       uuid.New(),
		Name:     input.Name,
		Email:    input.Email,
		Timezone: timezone,
		IsActive: utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}

	primary := Warehouse{
		BusinessId: business.ID.String(),
		Name:       "Primary Warehouse",
		IsActive:   utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&primary).Error; err != nil {
		return nil, err
	}

	return &business, nil
}

func GetBusiness(ctx context.Context) (*Business, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return GetBusinessById(ctx, businessId)
}

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	db := config.GetDB()
	var business Business
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &business, nil
}
