// Package memory is an in-process Store. Transactions are serialized and work
// on a private copy of the state that replaces the shared state on commit.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/store"
)

type state struct {
	assets      map[string]models.Asset
	inquiries   map[string]models.Inquiry
	decisions   []models.InquiryDecision
	events      []models.InquiryEvent
	messages    map[string]models.Message
	seqs        map[string]int64
	reports     map[string]models.MessageReport
	deals       map[string]models.Deal // keyed by inquiry id
	idempotency map[string]models.IdempotencyRecord
}

func newState() *state {
	return &state{
		assets:      make(map[string]models.Asset),
		inquiries:   make(map[string]models.Inquiry),
		messages:    make(map[string]models.Message),
		seqs:        make(map[string]int64),
		reports:     make(map[string]models.MessageReport),
		deals:       make(map[string]models.Deal),
		idempotency: make(map[string]models.IdempotencyRecord),
	}
}

func (s *state) clone() *state {
	c := &state{
		assets:      make(map[string]models.Asset, len(s.assets)),
		inquiries:   make(map[string]models.Inquiry, len(s.inquiries)),
		decisions:   append([]models.InquiryDecision(nil), s.decisions...),
		events:      append([]models.InquiryEvent(nil), s.events...),
		messages:    make(map[string]models.Message, len(s.messages)),
		seqs:        make(map[string]int64, len(s.seqs)),
		reports:     make(map[string]models.MessageReport, len(s.reports)),
		deals:       make(map[string]models.Deal, len(s.deals)),
		idempotency: make(map[string]models.IdempotencyRecord, len(s.idempotency)),
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.inquiries {
		c.inquiries[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.seqs {
		c.seqs[k] = v
	}
	for k, v := range s.reports {
		c.reports[k] = v
	}
	for k, v := range s.deals {
		c.deals[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// Store is a concurrency-safe in-memory implementation of store.Store
type Store struct {
	txMu sync.Mutex // serializes transactions

	mu    sync.RWMutex // guards the current pointer
	state *state
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// WithinTx implements store.Store
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	working := s.current().clone()
	if err := fn(&tx{state: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()
	return nil
}

// Ping implements store.Store
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// UpsertAsset implements store.Store
func (s *Store) UpsertAsset(ctx context.Context, asset *models.Asset) error {
	return s.WithinTx(ctx, func(t store.Tx) error {
		t.(*tx).state.assets[asset.ID] = *asset
		return nil
	})
}

// GetAsset implements store.Reader
func (s *Store) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return getAsset(s.current(), id)
}

// GetInquiry implements store.Reader
func (s *Store) GetInquiry(ctx context.Context, id string) (*models.Inquiry, error) {
	return getInquiry(s.current(), id)
}

// GetMessage implements store.Reader
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return getMessage(s.current(), id)
}

// GetReport implements store.Reader
func (s *Store) GetReport(ctx context.Context, id string) (*models.MessageReport, error) {
	return getReport(s.current(), id)
}

// GetDealByInquiry implements store.Reader
func (s *Store) GetDealByInquiry(ctx context.Context, inquiryID string) (*models.Deal, error) {
	return getDeal(s.current(), inquiryID)
}

// ListInquiries implements store.Store
func (s *Store) ListInquiries(ctx context.Context, filter store.InquiryFilter) ([]*models.Inquiry, error) {
	st := s.current()
	var out []*models.Inquiry
	for _, inq := range st.inquiries {
		if !matches(inq, filter) {
			continue
		}
		v := inq
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func matches(inq models.Inquiry, f store.InquiryFilter) bool {
	if f.ParticipantID != "" {
		buyer := inq.BuyerID == f.ParticipantID
		seller := inq.SellerID == f.ParticipantID && inq.ForwardedAt != nil
		if !buyer && !seller {
			return false
		}
	}
	if f.BuyerID != "" && inq.BuyerID != f.BuyerID {
		return false
	}
	if f.SellerID != "" && inq.SellerID != f.SellerID {
		return false
	}
	if f.ForwardedOnly && inq.ForwardedAt == nil {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if inq.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ListInquiryEvents implements store.Store
func (s *Store) ListInquiryEvents(ctx context.Context, inquiryID string) ([]*models.InquiryEvent, error) {
	var out []*models.InquiryEvent
	for _, e := range s.current().events {
		if e.InquiryID == inquiryID {
			v := e
			out = append(out, &v)
		}
	}
	return out, nil
}

// ListDecisions implements store.Store
func (s *Store) ListDecisions(ctx context.Context, inquiryID string) ([]*models.InquiryDecision, error) {
	var out []*models.InquiryDecision
	for _, d := range s.current().decisions {
		if d.InquiryID == inquiryID {
			v := d
			out = append(out, &v)
		}
	}
	return out, nil
}

// ListMessages implements store.Store
func (s *Store) ListMessages(ctx context.Context, inquiryID string) ([]*models.Message, error) {
	var out []*models.Message
	for _, m := range s.current().messages {
		if m.InquiryID == inquiryID {
			v := m
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ListMessagesByStatus implements store.Store
func (s *Store) ListMessagesByStatus(ctx context.Context, status models.MessageStatus) ([]*models.Message, error) {
	var out []*models.Message
	for _, m := range s.current().messages {
		if m.Status == status {
			v := m
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			if out[i].InquiryID == out[j].InquiryID {
				return out[i].Seq < out[j].Seq
			}
			return out[i].ID < out[j].ID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out, nil
}

// ListReports implements store.Store
func (s *Store) ListReports(ctx context.Context, status models.ReportStatus) ([]*models.MessageReport, error) {
	var out []*models.MessageReport
	for _, r := range s.current().reports {
		if status == "" || r.Status == status {
			v := r
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Stats implements store.Store
func (s *Store) Stats(ctx context.Context) (*models.SystemStats, error) {
	st := s.current()
	stats := &models.SystemStats{
		InquiriesByStatus: make(map[models.InquiryStatus]int, len(models.AllInquiryStatuses)),
	}
	for _, status := range models.AllInquiryStatuses {
		stats.InquiriesByStatus[status] = 0
	}
	for _, inq := range st.inquiries {
		stats.TotalInquiries++
		stats.InquiriesByStatus[inq.Status]++
		if !inq.Status.IsTerminal() {
			stats.OpenInquiries++
		}
	}
	for _, m := range st.messages {
		stats.TotalMessages++
		if m.Flagged {
			stats.FlaggedMessages++
		}
		switch m.DeliveryMode {
		case models.DeliveryModeDirect:
			stats.DirectMessages++
		case models.DeliveryModeModerated:
			stats.ModeratedMessages++
		}
		if m.Status == models.MessageStatusPending {
			stats.PendingMessages++
		}
	}
	for _, r := range st.reports {
		if r.Status == models.ReportStatusOpen {
			stats.OpenReports++
		}
	}
	stats.TotalDeals = len(st.deals)
	return stats, nil
}

func getAsset(st *state, id string) (*models.Asset, error) {
	a, ok := st.assets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func getInquiry(st *state, id string) (*models.Inquiry, error) {
	inq, ok := st.inquiries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inq, nil
}

func getMessage(st *state, id string) (*models.Message, error) {
	m, ok := st.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func getReport(st *state, id string) (*models.MessageReport, error) {
	r, ok := st.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func getDeal(st *state, inquiryID string) (*models.Deal, error) {
	d, ok := st.deals[inquiryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}
