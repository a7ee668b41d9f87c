package deal

import (
	"context"
	"testing"

	apperrors "github.com/aimerfeng/DomainDesk/internal/errors"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// TestProperty_PriceValidation checks that any positive two-decimal price in a
// supported currency converts and anything non-positive is rejected.
func TestProperty_PriceValidation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, models.InquiryStatusForwarded)
		cents := rapid.Int64Range(-1_000_000, 100_000_000).Draw(rt, "cents")
		price := decimal.New(cents, -2)

		req := validConvert(admin())
		req.AgreedPrice = price
		req.Currency = rapid.SampledFrom([]string{"USD", "eur", " gbp "}).Draw(rt, "currency")

		deal, err := f.svc.Convert(context.Background(), req)
		if cents <= 0 {
			if !apperrors.IsKind(err, apperrors.KindValidation) {
				rt.Fatalf("PROPERTY VIOLATION: price %s accepted (err=%v)", price, err)
			}
			return
		}
		if err != nil {
			rt.Fatalf("PROPERTY VIOLATION: price %s rejected: %v", price, err)
		}
		if !deal.AgreedPrice.Equal(price) {
			rt.Fatalf("PROPERTY VIOLATION: stored %s, want %s", deal.AgreedPrice, price)
		}
	})
}
