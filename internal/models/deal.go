package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealStatus represents the negotiation/settlement state of a deal
type DealStatus string

const (
	DealStatusAgreed            DealStatus = "AGREED"
	DealStatusPaymentPending    DealStatus = "PAYMENT_PENDING"
	DealStatusPaymentConfirmed  DealStatus = "PAYMENT_CONFIRMED"
	DealStatusTransferInitiated DealStatus = "TRANSFER_INITIATED"
	DealStatusCompleted         DealStatus = "COMPLETED"
	DealStatusDisputed          DealStatus = "DISPUTED"
)

// IsTerminal reports whether the deal lifecycle has ended
func (s DealStatus) IsTerminal() bool {
	return s == DealStatusCompleted
}

var dealTransitions = map[DealStatus][]DealStatus{
	DealStatusAgreed:            {DealStatusPaymentPending},
	DealStatusPaymentPending:    {DealStatusPaymentConfirmed},
	DealStatusPaymentConfirmed:  {DealStatusTransferInitiated},
	DealStatusTransferInitiated: {DealStatusCompleted},
}

// CanTransitionTo reports whether the deal lifecycle permits moving to next.
// DISPUTED is reachable from every non-terminal state.
func (s DealStatus) CanTransitionTo(next DealStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == DealStatusDisputed {
		return s != DealStatusDisputed
	}
	for _, allowed := range dealTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentMethod represents how the buyer intends to pay
type PaymentMethod string

const (
	PaymentMethodEscrow       PaymentMethod = "escrow"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodWire         PaymentMethod = "wire"
	PaymentMethodCrypto       PaymentMethod = "crypto"
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodOther        PaymentMethod = "other"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodEscrow, PaymentMethodBankTransfer, PaymentMethodWire,
		PaymentMethodCrypto, PaymentMethodPayPal, PaymentMethodOther:
		return true
	}
	return false
}

// Deal is the negotiated outcome of a forwarded inquiry
type Deal struct {
	ID                  string          `json:"id" db:"id"`
	InquiryID           string          `json:"inquiry_id" db:"inquiry_id"`
	AgreedPrice         decimal.Decimal `json:"agreed_price" db:"agreed_price"`
	Currency            string          `json:"currency" db:"currency"`
	PaymentMethod       PaymentMethod   `json:"payment_method" db:"payment_method"`
	PaymentInstructions string          `json:"payment_instructions,omitempty" db:"payment_instructions"`
	Timeline            string          `json:"timeline,omitempty" db:"timeline"`
	Terms               string          `json:"terms,omitempty" db:"terms"`
	Status              DealStatus      `json:"status" db:"status"`
	CreatedBy           string          `json:"created_by" db:"created_by"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}
