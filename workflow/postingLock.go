package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// acquirePostingLock serializes document posting for one business across
// instances with a MySQL advisory lock. GET_LOCK is connection-scoped, so it
// must run on the same *gorm.DB connection as the posting transaction, and
// the release must happen before that connection returns to the pool.
func acquirePostingLock(tx *gorm.DB, businessId string) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", postingLockName(businessId)).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for business_id=%s", businessId)
	}
	return nil
}

func releasePostingLock(tx *gorm.DB, businessId string) {
	var released int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", postingLockName(businessId)).Scan(&released).Error
}

// commitPosting releases the advisory lock and then commits. RELEASE_LOCK
// must run while the transaction's connection is still usable; a release
// deferred past Commit is a silent no-op and the pooled connection would keep
// the lock for its lifetime.
func commitPosting(tx *gorm.DB, businessId string) error {
	releasePostingLock(tx, businessId)
	return tx.Commit().Error
}

func postingLockName(businessId string) string {
	return fmt.Sprintf("stock_posting:%s", businessId)
}
