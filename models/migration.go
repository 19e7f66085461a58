package models

import (
	"gorm.io/gorm"
)

// MigrateDatabase creates/updates all tables. Ordered so foreign-key targets
// migrate before their referrers.
func MigrateDatabase(db *gorm.DB) error {
	return db.AutoMigrate(
		&Business{},
		&ProductUnit{},
		&ProductVariant{},
		&Warehouse{},
		&Location{},

		&StockMovement{},
		&StockBalance{},
		&InventoryLot{},
		&StockReservation{},

		&PurchaseOrder{},
		&PurchaseOrderDetail{},
		&GoodsReceipt{},
		&GoodsReceiptDetail{},
		&SalesOrder{},
		&SalesOrderDetail{},
		&Shipment{},
		&ShipmentDetail{},
		&StockAdjustment{},
		&StockAdjustmentDetail{},
		&StockCount{},
		&StockCountDetail{},
		&TransferOrder{},
		&TransferOrderDetail{},

		&IdempotencyKey{},
		&ReconciliationReport{},
		&ReconciliationReportLine{},
	)
}
