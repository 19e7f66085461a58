package workflow

import (
	"errors"
	"testing"

	"github.com/stocklane/wms_backend/models"
)

func TestStateMachines_LegalEdges(t *testing.T) {
	cases := []struct {
		machine *stateMachine
		from    models.DocumentStatus
		to      models.DocumentStatus
	}{
		{&goodsReceiptMachine, models.GoodsReceiptStatusDraft, models.GoodsReceiptStatusCompleted},
		{&goodsReceiptMachine, models.GoodsReceiptStatusPartial, models.GoodsReceiptStatusCompleted},
		{&shipmentMachine, models.ShipmentStatusDraft, models.ShipmentStatusPicking},
		{&shipmentMachine, models.ShipmentStatusPicking, models.ShipmentStatusPacked},
		{&shipmentMachine, models.ShipmentStatusPacked, models.ShipmentStatusShipped},
		{&adjustmentMachine, models.AdjustmentStatusDraft, models.AdjustmentStatusPendingApproval},
		{&adjustmentMachine, models.AdjustmentStatusPendingApproval, models.AdjustmentStatusApproved},
		{&adjustmentMachine, models.AdjustmentStatusPendingApproval, models.AdjustmentStatusRejected},
		{&adjustmentMachine, models.AdjustmentStatusApproved, models.AdjustmentStatusPosted},
		{&adjustmentMachine, models.AdjustmentStatusApproved, models.AdjustmentStatusCancelled},
		{&stockCountMachine, models.StockCountStatusDraft, models.StockCountStatusInProgress},
		{&stockCountMachine, models.StockCountStatusCompleted, models.StockCountStatusPosted},
		{&stockCountMachine, models.StockCountStatusReviewed, models.StockCountStatusPosted},
		{&transferMachine, models.TransferStatusDraft, models.TransferStatusApproved},
		{&transferMachine, models.TransferStatusApproved, models.TransferStatusInTransit},
		{&transferMachine, models.TransferStatusInTransit, models.TransferStatusReceived},
	}

	for _, tc := range cases {
		if err := tc.machine.EnsureTransition(tc.from, tc.to); err != nil {
			t.Errorf("%s: %s -> %s should be legal: %v", tc.machine.document, tc.from, tc.to, err)
		}
	}
}

func TestStateMachines_IllegalEdges(t *testing.T) {
	cases := []struct {
		machine *stateMachine
		from    models.DocumentStatus
		to      models.DocumentStatus
	}{
		// posted/terminal documents are immutable
		{&adjustmentMachine, models.AdjustmentStatusPosted, models.AdjustmentStatusDraft},
		{&adjustmentMachine, models.AdjustmentStatusPosted, models.AdjustmentStatusCancelled},
		{&adjustmentMachine, models.AdjustmentStatusRejected, models.AdjustmentStatusPosted},
		{&adjustmentMachine, models.AdjustmentStatusCancelled, models.AdjustmentStatusPosted},
		// posting requires approval
		{&adjustmentMachine, models.AdjustmentStatusDraft, models.AdjustmentStatusPosted},
		{&adjustmentMachine, models.AdjustmentStatusPendingApproval, models.AdjustmentStatusPosted},
		// shipped shipments cannot move
		{&shipmentMachine, models.ShipmentStatusShipped, models.ShipmentStatusDraft},
		{&shipmentMachine, models.ShipmentStatusDraft, models.ShipmentStatusShipped},
		// counts cannot post before review unless auto-posted from completed
		{&stockCountMachine, models.StockCountStatusInProgress, models.StockCountStatusPosted},
		{&stockCountMachine, models.StockCountStatusPosted, models.StockCountStatusDraft},
		// transfers must dispatch before receiving
		{&transferMachine, models.TransferStatusApproved, models.TransferStatusReceived},
		{&transferMachine, models.TransferStatusReceived, models.TransferStatusDraft},
		// receipts cannot reopen
		{&goodsReceiptMachine, models.GoodsReceiptStatusCompleted, models.GoodsReceiptStatusDraft},
		{&goodsReceiptMachine, models.GoodsReceiptStatusCompleted, models.GoodsReceiptStatusPartial},
	}

	for _, tc := range cases {
		err := tc.machine.EnsureTransition(tc.from, tc.to)
		if err == nil {
			t.Errorf("%s: %s -> %s should be rejected", tc.machine.document, tc.from, tc.to)
			continue
		}
		if !errors.Is(err, models.ErrIllegalTransition) {
			t.Errorf("%s: %s -> %s should fail with a state violation, got: %v", tc.machine.document, tc.from, tc.to, err)
		}
	}
}

func TestStateMachines_TerminalStatuses(t *testing.T) {
	terminals := []struct {
		machine *stateMachine
		status  models.DocumentStatus
	}{
		{&goodsReceiptMachine, models.GoodsReceiptStatusCompleted},
		{&shipmentMachine, models.ShipmentStatusShipped},
		{&adjustmentMachine, models.AdjustmentStatusPosted},
		{&adjustmentMachine, models.AdjustmentStatusRejected},
		{&adjustmentMachine, models.AdjustmentStatusCancelled},
		{&stockCountMachine, models.StockCountStatusPosted},
		{&transferMachine, models.TransferStatusReceived},
	}
	for _, tc := range terminals {
		if !tc.machine.IsTerminal(tc.status) {
			t.Errorf("%s: %s should be terminal", tc.machine.document, tc.status)
		}
	}

	if adjustmentMachine.IsTerminal(models.AdjustmentStatusApproved) {
		t.Errorf("approved adjustments must still be postable")
	}
}
