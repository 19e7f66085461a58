package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconciliationReport persists one balance-verification sweep so drift can
// be tracked over time instead of only observed interactively.
type ReconciliationReport struct {
	ID              int                        `gorm:"primary_key" json:"id"`
	BusinessId      string                     `gorm:"not null;index" json:"business_id"`
	SlotsChecked    int                        `gorm:"not null" json:"slots_checked"`
	SlotsInaccurate int                        `gorm:"not null" json:"slots_inaccurate"`
	MaxAbsVariance  decimal.Decimal            `gorm:"type:decimal(20,4);default:0" json:"max_abs_variance"`
	RanAt           time.Time                  `gorm:"not null" json:"ran_at"`
	Details         []ReconciliationReportLine `gorm:"foreignKey:ReportId" json:"details"`
	CreatedAt       time.Time                  `gorm:"autoCreateTime" json:"created_at"`
}

// ReconciliationReportLine records one inaccurate slot; accurate slots are
// counted on the header but not stored line by line.
type ReconciliationReportLine struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ReportId     int             `gorm:"not null;index" json:"report_id"`
	WarehouseId  int             `gorm:"not null" json:"warehouse_id"`
	LocationId   int             `gorm:"not null;default:0" json:"location_id"`
	VariantId    int             `gorm:"not null" json:"variant_id"`
	CachedOnHand decimal.Decimal `gorm:"type:decimal(20,4)" json:"cached_on_hand"`
	LedgerSum    decimal.Decimal `gorm:"type:decimal(20,4)" json:"ledger_sum"`
	Variance     decimal.Decimal `gorm:"type:decimal(20,4)" json:"variance"`
}

// BuildReconciliationReport folds a verification sweep into a persistable
// report.
func BuildReconciliationReport(businessId string, verifications []*BalanceVerification, ranAt time.Time) *ReconciliationReport {
	report := ReconciliationReport{
		BusinessId:   businessId,
		SlotsChecked: len(verifications),
		RanAt:        ranAt,
	}
	for _, v := range verifications {
		if v.IsAccurate {
			continue
		}
		report.SlotsInaccurate++
		if v.Variance.Abs().GreaterThan(report.MaxAbsVariance) {
			report.MaxAbsVariance = v.Variance.Abs()
		}
		report.Details = append(report.Details, ReconciliationReportLine{
			WarehouseId:  v.WarehouseId,
			LocationId:   v.LocationId,
			VariantId:    v.VariantId,
			CachedOnHand: v.CachedOnHand,
			LedgerSum:    v.LedgerSum,
			Variance:     v.Variance,
		})
	}
	return &report
}

func SaveReconciliationReport(tx *gorm.DB, report *ReconciliationReport) error {
	return tx.Create(report).Error
}
