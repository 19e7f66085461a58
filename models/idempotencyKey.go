package models

import (
	"time"
)

// IdempotencyKey dedupes document postings. Callers supply a key with the
// posting request; the unique index makes the claim race-safe across
// instances. Claim/settle logic lives in the workflow layer.
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	BusinessId  string            `gorm:"not null;index:idx_idem_key,unique" json:"business_id"`
	Operation   string            `gorm:"size:100;not null;index:idx_idem_key,unique" json:"operation"`
	Key         string            `gorm:"size:100;not null;index:idx_idem_key,unique" json:"key"`
	Status      IdempotencyStatus `gorm:"size:20;not null;default:STARTED" json:"status"`
	ReferenceId int               `gorm:"default:0" json:"reference_id"`
	LastError   *string           `gorm:"size:255" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
