package notify

import (
	"context"
	"strings"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/google/uuid"
)

// Dispatcher turns domain outcomes into events. It never returns delivery errors:
// they are logged and counted so the triggering operation is unaffected.
type Dispatcher struct {
	notifier Notifier
	now      func() time.Time
}

// NewDispatcher creates a dispatcher publishing through notifier
func NewDispatcher(notifier Notifier) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NotifyForwarded tells the seller a new inquiry is visible to them
func (d *Dispatcher) NotifyForwarded(ctx context.Context, inq *models.Inquiry) {
	d.publish(ctx, Event{
		Kind:        KindInquiryForwarded,
		RecipientID: inq.SellerID,
		InquiryID:   inq.ID,
		SubjectID:   inq.AssetID,
		Data: map[string]string{
			"budget_range": inq.BudgetRange,
			"intended_use": inq.IntendedUse,
		},
	})
}

// NotifyInquiryDecision tells the buyer about a reject or request-changes verdict
func (d *Dispatcher) NotifyInquiryDecision(ctx context.Context, inq *models.Inquiry, decision models.Decision) {
	data := map[string]string{
		"decision": string(decision),
		"status":   string(inq.Status),
	}
	if decision == models.DecisionRequestChanges && inq.ReviewNote != "" {
		data["note"] = inq.ReviewNote
	}
	d.publish(ctx, Event{
		Kind:        KindInquiryDecision,
		RecipientID: inq.BuyerID,
		InquiryID:   inq.ID,
		Data:        data,
	})
}

// NotifyNewMessage tells recipientID a message was delivered to them
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, msg *models.Message, recipientID string) {
	d.publish(ctx, Event{
		Kind:        KindNewMessage,
		RecipientID: recipientID,
		InquiryID:   msg.InquiryID,
		SubjectID:   msg.ID,
		Data: map[string]string{
			"sender_role": string(msg.SenderRole),
		},
	})
}

// NotifyMessageRejected tells the sender their message was not delivered,
// echoing the detector categories that held it. The moderator's internal note
// is never included.
func (d *Dispatcher) NotifyMessageRejected(ctx context.Context, msg *models.Message) {
	data := map[string]string{}
	if msg.Moderation != nil {
		data["reason"] = string(msg.Moderation.Reason)
	}
	if categories := msg.MatchCategories(); len(categories) > 0 {
		data["categories"] = strings.Join(categories, ",")
	}
	d.publish(ctx, Event{
		Kind:        KindMessageRejected,
		RecipientID: msg.SenderID,
		InquiryID:   msg.InquiryID,
		SubjectID:   msg.ID,
		Data:        data,
	})
}

// NotifyDealCreated tells both participants a deal was agreed
func (d *Dispatcher) NotifyDealCreated(ctx context.Context, deal *models.Deal, inq *models.Inquiry) {
	for _, recipient := range []string{inq.BuyerID, inq.SellerID} {
		d.publish(ctx, Event{
			Kind:        KindDealCreated,
			RecipientID: recipient,
			InquiryID:   inq.ID,
			SubjectID:   deal.ID,
			Data: map[string]string{
				"agreed_price": deal.AgreedPrice.StringFixed(2),
				"currency":     deal.Currency,
			},
		})
	}
}

func (d *Dispatcher) publish(ctx context.Context, event Event) {
	event.ID = uuid.New().String()
	event.CreatedAt = d.now()

	if err := d.notifier.Publish(ctx, event); err != nil {
		logging.LogNotificationFailure(err, string(event.Kind), event.RecipientID, event.SubjectID)
		monitoring.RecordNotificationFailure(string(event.Kind))
		return
	}
	monitoring.RecordNotification(string(event.Kind))
}
