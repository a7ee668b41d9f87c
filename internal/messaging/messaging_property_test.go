package messaging

import (
	"context"
	"testing"

	"github.com/aimerfeng/DomainDesk/internal/flags"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"pgregory.net/rapid"
)

// TestProperty_FlaggedImpliesEvidence sends random text under random flag
// settings and checks that flagged messages carry matches, unflagged ones
// carry none, and only flagged or unmoderated-channel messages are held.
func TestProperty_FlaggedImpliesEvidence(t *testing.T) {
	fragments := []string{
		"hello", "price is fine", "call 555-123-4567", "bob@example.org", "@dealmaker",
		"visit www.other-market.net", "ping me on telegram", "example.com is great", "5000 USD",
	}

	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, models.InquiryStatusForwarded)
		direct := rapid.Bool().Draw(rt, "direct")
		detection := rapid.Bool().Draw(rt, "detection")
		f.flags.Set(flags.DirectMessaging, direct)
		f.flags.Set(flags.ContactInfoDetection, detection)

		parts := rapid.SliceOfN(rapid.SampledFrom(fragments), 1, 4).Draw(rt, "parts")
		content := ""
		for i, p := range parts {
			if i > 0 {
				content += " "
			}
			content += p
		}

		res, err := f.svc.Send(context.Background(), SendRequest{InquiryID: inquiryID, SenderID: buyerID, Content: content})
		if err != nil {
			rt.Fatalf("send: %v", err)
		}
		msg := res.Message
		if msg.Flagged && len(msg.DetectorMatches) == 0 {
			rt.Fatalf("PROPERTY VIOLATION: flagged message %q has no matches", content)
		}
		if !msg.Flagged && len(msg.DetectorMatches) > 0 {
			rt.Fatalf("PROPERTY VIOLATION: unflagged message %q carries matches", content)
		}
		if msg.Flagged && !detection {
			rt.Fatalf("PROPERTY VIOLATION: flagged with detection off")
		}
		if direct && !msg.Flagged && msg.Status != models.MessageStatusDelivered {
			rt.Fatalf("PROPERTY VIOLATION: clean direct message %q was held", content)
		}
		if !direct && msg.Status == models.MessageStatusDelivered {
			rt.Fatalf("PROPERTY VIOLATION: delivered with direct messaging off")
		}
	})
}
