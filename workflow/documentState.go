package workflow

import (
	"github.com/stocklane/wms_backend/models"
	"gorm.io/gorm"
)

// stateMachine is the one shape shared by all five document workflows: a
// named document kind plus its legal transitions. A status missing from the
// map is terminal. Guard predicates beyond "is this edge legal" stay in the
// individual workflow functions.
type stateMachine struct {
	document    string
	transitions map[models.DocumentStatus][]models.DocumentStatus
}

// EnsureTransition rejects an illegal edge before any side effect.
func (m *stateMachine) EnsureTransition(from, to models.DocumentStatus) error {
	for _, allowed := range m.transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return models.NewStateTransitionError(m.document, from, to)
}

// IsTerminal reports whether a status has no outgoing edges.
func (m *stateMachine) IsTerminal(status models.DocumentStatus) bool {
	return len(m.transitions[status]) == 0
}

// advanceStatus flips one document row from -> to with a guarded CAS. Zero
// affected rows means the document moved concurrently after it was loaded;
// a caller inside a posting transaction must treat that as fatal so its
// movements roll back instead of double-posting. A same-status edge (partial
// to partial) is a no-op: MySQL reports zero affected rows for it even when
// the row matched.
func advanceStatus[T any](tx *gorm.DB, m *stateMachine, businessId string, id int, from, to models.DocumentStatus) error {
	if from == to {
		return nil
	}
	var doc T
	result := tx.Model(&doc).
		Where("business_id = ? AND id = ? AND status = ?", businessId, id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.NewStateTransitionError(m.document, from, to)
	}
	return nil
}

var purchaseOrderMachine = stateMachine{
	document: "purchase order",
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.PurchaseOrderStatusDraft:   {models.PurchaseOrderStatusIssued},
		models.PurchaseOrderStatusIssued:  {models.PurchaseOrderStatusPartial, models.PurchaseOrderStatusReceived},
		models.PurchaseOrderStatusPartial: {models.PurchaseOrderStatusPartial, models.PurchaseOrderStatusReceived},
	},
}

var goodsReceiptMachine = stateMachine{
	document: "goods receipt",
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.GoodsReceiptStatusDraft:   {models.GoodsReceiptStatusPartial, models.GoodsReceiptStatusCompleted},
		models.GoodsReceiptStatusPartial: {models.GoodsReceiptStatusPartial, models.GoodsReceiptStatusCompleted},
	},
}

var shipmentMachine = stateMachine{
	document: "shipment",
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.ShipmentStatusDraft:   {models.ShipmentStatusPicking},
		models.ShipmentStatusPicking: {models.ShipmentStatusPacked},
		models.ShipmentStatusPacked:  {models.ShipmentStatusShipped},
	},
}

var adjustmentMachine = stateMachine{
	document: "stock adjustment",
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.AdjustmentStatusDraft: {
			models.AdjustmentStatusPendingApproval,
			models.AdjustmentStatusCancelled,
		},
		models.AdjustmentStatusPendingApproval: {
			models.AdjustmentStatusApproved,
			models.AdjustmentStatusRejected,
			models.AdjustmentStatusCancelled,
		},
		models.AdjustmentStatusApproved: {
			models.AdjustmentStatusPosted,
			models.AdjustmentStatusCancelled,
		},
	},
}

var stockCountMachine = stateMachine{
	document: "stock count",
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.StockCountStatusDraft:      {models.StockCountStatusInProgress},
		models.StockCountStatusInProgress: {models.StockCountStatusCompleted},
		// completed may jump straight to posted when every variance is zero
		models.StockCountStatusCompleted: {models.StockCountStatusReviewed, models.StockCountStatusPosted},
		models.StockCountStatusReviewed:  {models.StockCountStatusPosted},
	},
}

var transferMachine = stateMachine{
	document: "transfer order",
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.TransferStatusDraft:     {models.TransferStatusApproved},
		models.TransferStatusApproved:  {models.TransferStatusInTransit},
		models.TransferStatusInTransit: {models.TransferStatusReceived},
	},
}
