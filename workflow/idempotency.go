package workflow

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/stocklane/wms_backend/models"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// beginIdempotency inserts STARTED for (operation, key). If a SUCCEEDED row
// already exists it returns skip=true with the prior document id, meaning the
// posting already happened and the caller must not repeat it. A FAILED or
// stale STARTED row is retaken so a crashed posting can be retried.
//
// An empty key disables deduplication entirely.
func beginIdempotency(tx *gorm.DB, businessId, operation, key string) (skip bool, priorReferenceId int, err error) {
	if key == "" {
		return false, 0, nil
	}

	record := models.IdempotencyKey{
		BusinessId: businessId,
		Operation:  operation,
		Key:        key,
		Status:     models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&record).Error; err == nil {
		return false, 0, nil
	} else if !isDuplicateKeyErr(err) {
		return false, 0, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("business_id = ? AND operation = ? AND `key` = ?", businessId, operation, key).
		First(&existing).Error; err != nil {
		return false, 0, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, existing.ReferenceId, nil
	case models.IdempotencyStatusStarted:
		// Another instance may be mid-posting; only retake a stale claim.
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, 0, ErrIdempotencyInProgress
		}
		fallthrough
	default:
		return false, 0, tx.Model(&models.IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
	}
}

func markIdempotencySucceeded(tx *gorm.DB, businessId, operation, key string, referenceId int) error {
	if key == "" {
		return nil
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("business_id = ? AND operation = ? AND `key` = ?", businessId, operation, key).
		Updates(map[string]interface{}{
			"status":       models.IdempotencyStatusSucceeded,
			"reference_id": referenceId,
			"last_error":   nil,
		}).Error
}

// markIdempotencyFailed runs on its own connection since the posting
// transaction that failed has already rolled back.
func markIdempotencyFailed(db *gorm.DB, businessId, operation, key string, cause error) error {
	if key == "" {
		return nil
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return db.Model(&models.IdempotencyKey{}).
		Where("business_id = ? AND operation = ? AND `key` = ?", businessId, operation, key).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
