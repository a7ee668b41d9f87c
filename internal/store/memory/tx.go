package memory

import (
	"context"
	"sort"

	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/store"
)

// tx mutates a private copy of the state. Row locks are implicit because
// transactions never run concurrently.
type tx struct {
	state *state
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return getAsset(t.state, id)
}

func (t *tx) GetInquiry(ctx context.Context, id string) (*models.Inquiry, error) {
	return getInquiry(t.state, id)
}

func (t *tx) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return getMessage(t.state, id)
}

func (t *tx) GetReport(ctx context.Context, id string) (*models.MessageReport, error) {
	return getReport(t.state, id)
}

func (t *tx) GetDealByInquiry(ctx context.Context, inquiryID string) (*models.Deal, error) {
	return getDeal(t.state, inquiryID)
}

func (t *tx) LockInquiry(ctx context.Context, id string) (*models.Inquiry, error) {
	return getInquiry(t.state, id)
}

func (t *tx) FindActiveInquiry(ctx context.Context, buyerID, assetID string) (*models.Inquiry, error) {
	for _, inq := range t.state.inquiries {
		if inq.BuyerID == buyerID && inq.AssetID == assetID && !inq.Status.IsTerminal() {
			v := inq
			return &v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) InsertInquiry(ctx context.Context, inquiry *models.Inquiry) error {
	if _, exists := t.state.inquiries[inquiry.ID]; exists {
		return store.ErrDuplicate
	}
	if _, err := t.FindActiveInquiry(ctx, inquiry.BuyerID, inquiry.AssetID); err == nil && !inquiry.Status.IsTerminal() {
		return store.ErrDuplicate
	}
	if inquiry.Version == 0 {
		inquiry.Version = 1
	}
	t.state.inquiries[inquiry.ID] = *inquiry
	return nil
}

func (t *tx) UpdateInquiry(ctx context.Context, inquiry *models.Inquiry, expected models.InquiryStatus, expectedVersion int) error {
	current, ok := t.state.inquiries[inquiry.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != expected || current.Version != expectedVersion {
		return store.ErrStale
	}
	inquiry.Version = expectedVersion + 1
	t.state.inquiries[inquiry.ID] = *inquiry
	return nil
}

func (t *tx) InsertDecision(ctx context.Context, decision *models.InquiryDecision) error {
	t.state.decisions = append(t.state.decisions, *decision)
	return nil
}

func (t *tx) InsertEvent(ctx context.Context, event *models.InquiryEvent) error {
	t.state.events = append(t.state.events, *event)
	return nil
}

func (t *tx) NextMessageSeq(ctx context.Context, inquiryID string) (int64, error) {
	t.state.seqs[inquiryID]++
	return t.state.seqs[inquiryID], nil
}

func (t *tx) InsertMessage(ctx context.Context, message *models.Message) error {
	if _, exists := t.state.messages[message.ID]; exists {
		return store.ErrDuplicate
	}
	for _, m := range t.state.messages {
		if m.InquiryID == message.InquiryID && m.Seq == message.Seq {
			return store.ErrDuplicate
		}
	}
	t.state.messages[message.ID] = *message
	return nil
}

func (t *tx) LockMessage(ctx context.Context, id string) (*models.Message, error) {
	return getMessage(t.state, id)
}

func (t *tx) UpdateMessage(ctx context.Context, message *models.Message, expected models.MessageStatus) error {
	current, ok := t.state.messages[message.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != expected {
		return store.ErrStale
	}
	t.state.messages[message.ID] = *message
	return nil
}

func (t *tx) RejectPendingMessages(ctx context.Context, inquiryID string, moderation models.MessageModeration) ([]*models.Message, error) {
	var rejected []*models.Message
	for id, m := range t.state.messages {
		if m.InquiryID != inquiryID || m.Status != models.MessageStatusPending {
			continue
		}
		mod := moderation
		m.Status = models.MessageStatusRejected
		m.Moderation = &mod
		t.state.messages[id] = m
		v := m
		rejected = append(rejected, &v)
	}
	sortBySeq(rejected)
	return rejected, nil
}

func (t *tx) InsertReport(ctx context.Context, report *models.MessageReport) error {
	for _, r := range t.state.reports {
		if r.MessageID == report.MessageID && r.ReporterID == report.ReporterID && r.Status == models.ReportStatusOpen {
			return store.ErrDuplicate
		}
	}
	t.state.reports[report.ID] = *report
	return nil
}

func (t *tx) LockReport(ctx context.Context, id string) (*models.MessageReport, error) {
	return getReport(t.state, id)
}

func (t *tx) UpdateReport(ctx context.Context, report *models.MessageReport) error {
	if _, ok := t.state.reports[report.ID]; !ok {
		return store.ErrNotFound
	}
	t.state.reports[report.ID] = *report
	return nil
}

func (t *tx) InsertDeal(ctx context.Context, deal *models.Deal) error {
	if _, exists := t.state.deals[deal.InquiryID]; exists {
		return store.ErrDuplicate
	}
	t.state.deals[deal.InquiryID] = *deal
	return nil
}

func (t *tx) GetIdempotency(ctx context.Context, scope, key string) (*models.IdempotencyRecord, error) {
	rec, ok := t.state.idempotency[idempotencyKey(scope, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (t *tx) PutIdempotency(ctx context.Context, record *models.IdempotencyRecord) error {
	t.state.idempotency[idempotencyKey(record.Scope, record.Key)] = *record
	return nil
}

func idempotencyKey(scope, key string) string {
	return scope + "\x00" + key
}

func sortBySeq(messages []*models.Message) {
	sort.Slice(messages, func(i, j int) bool { return messages[i].Seq < messages[j].Seq })
}
