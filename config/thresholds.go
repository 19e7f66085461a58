package config

// Stock-level thresholds.
//
// These ratios are applied against a variant's reorder minimum. Whether they
// should be configurable per variant or per warehouse is still an open
// product question; until that is settled they live here as named constants
// so there is exactly one place to change them.
const (
	// LowStockReorderRatio: available <= reorderMin * ratio => low_stock.
	LowStockReorderRatio = 0.2

	// Alert severity tiers for replenishment dashboards.
	AlertCriticalRatio = 0.25
	AlertWarningRatio  = 0.5
)
