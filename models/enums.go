package models

// StockReferenceType tags every stock movement with the document kind that
// produced it. This is a closed, versioned contract: reconciliation and
// reporting consumers key off these values, so adding a document kind means
// extending this enumeration explicitly.
type StockReferenceType string

const (
	StockReferenceTypePurchaseOrder StockReferenceType = "PO"
	StockReferenceTypeGoodsReceipt  StockReferenceType = "GRN"
	StockReferenceTypeSalesOrder    StockReferenceType = "SO"
	StockReferenceTypeShipment      StockReferenceType = "SHIPMENT"
	StockReferenceTypeAdjustment    StockReferenceType = "ADJUSTMENT"
	StockReferenceTypeTransfer      StockReferenceType = "TRANSFER"
	StockReferenceTypeCount         StockReferenceType = "COUNT"
)

var stockReferenceTypes = map[StockReferenceType]bool{
	StockReferenceTypePurchaseOrder: true,
	StockReferenceTypeGoodsReceipt:  true,
	StockReferenceTypeSalesOrder:    true,
	StockReferenceTypeShipment:      true,
	StockReferenceTypeAdjustment:    true,
	StockReferenceTypeTransfer:      true,
	StockReferenceTypeCount:         true,
}

func (t StockReferenceType) IsValid() bool {
	return stockReferenceTypes[t]
}

// StockState is the finite classifier over a variant's aggregated stock.
type StockState string

const (
	StockStateOnOrder    StockState = "on_order"
	StockStateOutOfStock StockState = "out_of_stock"
	StockStateAllocated  StockState = "allocated"
	StockStateLowStock   StockState = "low_stock"
	StockStateInStock    StockState = "in_stock"
)

// LowStockSeverity tiers for replenishment alerting.
type LowStockSeverity string

const (
	LowStockSeverityCritical LowStockSeverity = "critical"
	LowStockSeverityWarning  LowStockSeverity = "warning"
	LowStockSeverityNone     LowStockSeverity = "none"
)

// DocumentStatus is shared by all five document workflows.
type DocumentStatus string

// Purchase order aggregate status, driven by goods receipts.
const (
	PurchaseOrderStatusDraft    DocumentStatus = "draft"
	PurchaseOrderStatusIssued   DocumentStatus = "issued"
	PurchaseOrderStatusPartial  DocumentStatus = "partial"
	PurchaseOrderStatusReceived DocumentStatus = "received"
)

const (
	GoodsReceiptStatusDraft     DocumentStatus = "draft"
	GoodsReceiptStatusPartial   DocumentStatus = "partial"
	GoodsReceiptStatusCompleted DocumentStatus = "completed"
)

const (
	ShipmentStatusDraft   DocumentStatus = "draft"
	ShipmentStatusPicking DocumentStatus = "picking"
	ShipmentStatusPacked  DocumentStatus = "packed"
	ShipmentStatusShipped DocumentStatus = "shipped"
)

const (
	SalesOrderStatusOpen    DocumentStatus = "open"
	SalesOrderStatusPartial DocumentStatus = "partial"
	SalesOrderStatusShipped DocumentStatus = "shipped"
)

const (
	AdjustmentStatusDraft           DocumentStatus = "draft"
	AdjustmentStatusPendingApproval DocumentStatus = "pending_approval"
	AdjustmentStatusApproved        DocumentStatus = "approved"
	AdjustmentStatusRejected        DocumentStatus = "rejected"
	AdjustmentStatusPosted          DocumentStatus = "posted"
	AdjustmentStatusCancelled       DocumentStatus = "cancelled"
)

const (
	StockCountStatusDraft      DocumentStatus = "draft"
	StockCountStatusInProgress DocumentStatus = "in_progress"
	StockCountStatusCompleted  DocumentStatus = "completed"
	StockCountStatusReviewed   DocumentStatus = "reviewed"
	StockCountStatusPosted     DocumentStatus = "posted"
)

const (
	TransferStatusDraft     DocumentStatus = "draft"
	TransferStatusApproved  DocumentStatus = "approved"
	TransferStatusInTransit DocumentStatus = "in_transit"
	TransferStatusReceived  DocumentStatus = "received"
)

// CountLineResult classifies a counted line against its expected quantity.
type CountLineResult string

const (
	CountLineResultMatch   CountLineResult = "match"
	CountLineResultOver    CountLineResult = "over"
	CountLineResultUnder   CountLineResult = "under"
	CountLineResultMissing CountLineResult = "missing"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)
