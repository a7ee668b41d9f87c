package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDealStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to DealStatus
		want     bool
	}{
		{DealStatusAgreed, DealStatusPaymentPending, true},
		{DealStatusPaymentPending, DealStatusPaymentConfirmed, true},
		{DealStatusPaymentConfirmed, DealStatusTransferInitiated, true},
		{DealStatusTransferInitiated, DealStatusCompleted, true},

		{DealStatusAgreed, DealStatusCompleted, false},
		{DealStatusPaymentPending, DealStatusAgreed, false},
		{DealStatusTransferInitiated, DealStatusPaymentConfirmed, false},
		{DealStatusDisputed, DealStatusAgreed, false},
		{DealStatusDisputed, DealStatusDisputed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestDealStatus_DisputedFromEveryOpenState(t *testing.T) {
	for _, from := range []DealStatus{
		DealStatusAgreed, DealStatusPaymentPending, DealStatusPaymentConfirmed, DealStatusTransferInitiated,
	} {
		assert.True(t, from.CanTransitionTo(DealStatusDisputed), "%s should allow a dispute", from)
	}
}

func TestDealStatus_CompletedIsClosed(t *testing.T) {
	assert.True(t, DealStatusCompleted.IsTerminal())
	for _, to := range []DealStatus{
		DealStatusAgreed, DealStatusPaymentPending, DealStatusPaymentConfirmed,
		DealStatusTransferInitiated, DealStatusCompleted, DealStatusDisputed,
	} {
		assert.False(t, DealStatusCompleted.CanTransitionTo(to), "COMPLETED -> %s", to)
	}
}
