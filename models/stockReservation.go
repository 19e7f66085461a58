package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusReleased ReservationStatus = "released"
	ReservationStatusConsumed ReservationStatus = "consumed"
)

// StockReservation is one row of the reservation ledger. Active rows back the
// QtyReserved counters on balances and lots; releasing or consuming a row
// always moves those counters in the same transaction.
type StockReservation struct {
	ID            int                `gorm:"primary_key" json:"id"`
	BusinessId    string             `gorm:"not null;index:idx_reservation_ref" json:"business_id"`
	WarehouseId   int                `gorm:"not null" json:"warehouse_id"`
	LocationId    int                `gorm:"not null;default:0" json:"location_id"`
	VariantId     int                `gorm:"not null;index" json:"variant_id"`
	LotNumber     string             `gorm:"size:100;default:''" json:"lot_number"`
	Qty           decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"qty"`
	ReferenceType StockReferenceType `gorm:"size:20;not null;index:idx_reservation_ref" json:"reference_type"`
	ReferenceId   int                `gorm:"not null;index:idx_reservation_ref" json:"reference_id"`
	ReferenceLine int                `gorm:"default:0" json:"reference_line"`
	Status        ReservationStatus  `gorm:"size:20;not null;default:active" json:"status"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStockReservation struct {
	BusinessId    string
	WarehouseId   int
	LocationId    int
	VariantId     int
	LotNumber     string
	Qty           decimal.Decimal
	ReferenceType StockReferenceType
	ReferenceId   int
	ReferenceLine int
}

// CreateReservation writes the reservation row and bumps the reserved
// counters. The balance guard rejects reserving beyond on-hand, which is what
// keeps available = on_hand - reserved from going negative through this path.
func CreateReservation(tx *gorm.DB, input *NewStockReservation) (*StockReservation, error) {

	if !input.Qty.IsPositive() {
		return nil, NewValidationError("reservation quantity must be positive")
	}
	if !input.ReferenceType.IsValid() {
		return nil, NewValidationError("unknown reference type %q", input.ReferenceType)
	}

	reservation := StockReservation{
		BusinessId:    input.BusinessId,
		WarehouseId:   input.WarehouseId,
		LocationId:    input.LocationId,
		VariantId:     input.VariantId,
		LotNumber:     input.LotNumber,
		Qty:           input.Qty,
		ReferenceType: input.ReferenceType,
		ReferenceId:   input.ReferenceId,
		ReferenceLine: input.ReferenceLine,
		Status:        ReservationStatusActive,
	}
	if err := tx.Create(&reservation).Error; err != nil {
		return nil, err
	}

	balanceKey := StockBalanceKey{
		BusinessId:  input.BusinessId,
		WarehouseId: input.WarehouseId,
		LocationId:  input.LocationId,
		VariantId:   input.VariantId,
	}
	if err := AdjustBalanceReserved(tx, balanceKey, input.Qty); err != nil {
		return nil, err
	}

	if input.LotNumber != "" {
		lotKey := InventoryLotKey{
			BusinessId:  input.BusinessId,
			WarehouseId: input.WarehouseId,
			LocationId:  input.LocationId,
			VariantId:   input.VariantId,
			LotNumber:   input.LotNumber,
		}
		if err := AdjustLotReserved(tx, lotKey, input.Qty); err != nil {
			return nil, err
		}
	}

	// Reserved and available changed; the cached summary is stale.
	InvalidateStockSummary(input.BusinessId, input.VariantId)
	return &reservation, nil
}

// settleReservation flips an active row to its terminal status and unwinds the
// reserved counters. Consumption does not touch on-hand here; the outbound
// ledger movement does that.
func settleReservation(tx *gorm.DB, reservation *StockReservation, status ReservationStatus) error {

	if reservation.Status != ReservationStatusActive {
		return NewBusinessRuleError("reservation %d is already %s", reservation.ID, reservation.Status)
	}

	result := tx.Model(&StockReservation{}).
		Where("id = ? AND status = ?", reservation.ID, ReservationStatusActive).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NewBusinessRuleError("reservation %d was settled concurrently", reservation.ID)
	}

	balanceKey := StockBalanceKey{
		BusinessId:  reservation.BusinessId,
		WarehouseId: reservation.WarehouseId,
		LocationId:  reservation.LocationId,
		VariantId:   reservation.VariantId,
	}
	if err := AdjustBalanceReserved(tx, balanceKey, reservation.Qty.Neg()); err != nil {
		return err
	}

	if reservation.LotNumber != "" {
		lotKey := InventoryLotKey{
			BusinessId:  reservation.BusinessId,
			WarehouseId: reservation.WarehouseId,
			LocationId:  reservation.LocationId,
			VariantId:   reservation.VariantId,
			LotNumber:   reservation.LotNumber,
		}
		if err := AdjustLotReserved(tx, lotKey, reservation.Qty.Neg()); err != nil {
			return err
		}
	}

	InvalidateStockSummary(reservation.BusinessId, reservation.VariantId)
	reservation.Status = status
	return nil
}

// ReleaseReservationQty unwinds up to qty from an active reservation. A
// release covering the full remaining quantity settles the row; a smaller one
// shrinks it and leaves it active. Returns the quantity actually released.
func ReleaseReservationQty(tx *gorm.DB, reservation *StockReservation, qty decimal.Decimal, status ReservationStatus) (decimal.Decimal, error) {

	if !qty.IsPositive() {
		return decimal.Zero, NewValidationError("release quantity must be positive")
	}
	if reservation.Status != ReservationStatusActive {
		return decimal.Zero, NewBusinessRuleError("reservation %d is already %s", reservation.ID, reservation.Status)
	}

	released := decimal.Min(reservation.Qty, qty)
	if released.Equal(reservation.Qty) {
		return released, settleReservation(tx, reservation, status)
	}

	result := tx.Model(&StockReservation{}).
		Where("id = ? AND status = ? AND qty = ?", reservation.ID, ReservationStatusActive, reservation.Qty).
		Update("qty", reservation.Qty.Sub(released))
	if result.Error != nil {
		return decimal.Zero, result.Error
	}
	if result.RowsAffected == 0 {
		return decimal.Zero, NewBusinessRuleError("reservation %d changed concurrently", reservation.ID)
	}

	balanceKey := StockBalanceKey{
		BusinessId:  reservation.BusinessId,
		WarehouseId: reservation.WarehouseId,
		LocationId:  reservation.LocationId,
		VariantId:   reservation.VariantId,
	}
	if err := AdjustBalanceReserved(tx, balanceKey, released.Neg()); err != nil {
		return decimal.Zero, err
	}

	if reservation.LotNumber != "" {
		lotKey := InventoryLotKey{
			BusinessId:  reservation.BusinessId,
			WarehouseId: reservation.WarehouseId,
			LocationId:  reservation.LocationId,
			VariantId:   reservation.VariantId,
			LotNumber:   reservation.LotNumber,
		}
		if err := AdjustLotReserved(tx, lotKey, released.Neg()); err != nil {
			return decimal.Zero, err
		}
	}

	InvalidateStockSummary(reservation.BusinessId, reservation.VariantId)
	reservation.Qty = reservation.Qty.Sub(released)
	return released, nil
}

// ReleaseReservationRow returns a reservation's quantity to available stock.
func ReleaseReservationRow(tx *gorm.DB, reservation *StockReservation) error {
	return settleReservation(tx, reservation, ReservationStatusReleased)
}

// ConsumeReservationRow marks a reservation fulfilled by an outbound movement.
func ConsumeReservationRow(tx *gorm.DB, reservation *StockReservation) error {
	return settleReservation(tx, reservation, ReservationStatusConsumed)
}

// FetchReservationForUpdate loads one reservation FOR UPDATE.
func FetchReservationForUpdate(tx *gorm.DB, businessId string, id int) (*StockReservation, error) {
	var reservation StockReservation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, id).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// FetchActiveReservations loads a document's active reservations FOR UPDATE.
func FetchActiveReservations(tx *gorm.DB, businessId string, referenceType StockReferenceType, referenceId int) ([]*StockReservation, error) {
	var reservations []*StockReservation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND reference_type = ? AND reference_id = ? AND status = ?",
			businessId, referenceType, referenceId, ReservationStatusActive).
		Order("id asc").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}
