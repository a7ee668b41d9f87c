// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on a pgx pool
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinTx implements store.Store
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping implements store.Store
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertAsset implements store.Store
func (s *Store) UpsertAsset(ctx context.Context, a *models.Asset) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assets (id, seller_id, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET seller_id = EXCLUDED.seller_id, name = EXCLUDED.name, status = EXCLUDED.status
	`, a.ID, a.SellerID, a.Name, a.Status, createdAt)
	return mapErr(err)
}

func (s *Store) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return getAsset(ctx, s.pool, id)
}

func (s *Store) GetInquiry(ctx context.Context, id string) (*models.Inquiry, error) {
	return getInquiry(ctx, s.pool, id, false)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return getMessage(ctx, s.pool, id, false)
}

func (s *Store) GetReport(ctx context.Context, id string) (*models.MessageReport, error) {
	return getReport(ctx, s.pool, id, false)
}

func (s *Store) GetDealByInquiry(ctx context.Context, inquiryID string) (*models.Deal, error) {
	return getDeal(ctx, s.pool, inquiryID)
}

// ListInquiries implements store.Store
func (s *Store) ListInquiries(ctx context.Context, f store.InquiryFilter) ([]*models.Inquiry, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ParticipantID != "" {
		p := arg(f.ParticipantID)
		conds = append(conds, fmt.Sprintf("(buyer_id = %s OR (seller_id = %s AND forwarded_at IS NOT NULL))", p, p))
	}
	if f.BuyerID != "" {
		conds = append(conds, "buyer_id = "+arg(f.BuyerID))
	}
	if f.SellerID != "" {
		conds = append(conds, "seller_id = "+arg(f.SellerID))
	}
	if f.ForwardedOnly {
		conds = append(conds, "forwarded_at IS NOT NULL")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}

	query := "SELECT " + inquiryColumns + " FROM inquiries"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"

	defer observe("list_inquiries", time.Now())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Inquiry
	for rows.Next() {
		inq, err := scanInquiry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inq)
	}
	return out, rows.Err()
}

// ListInquiryEvents implements store.Store
func (s *Store) ListInquiryEvents(ctx context.Context, inquiryID string) ([]*models.InquiryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, inquiry_id, from_status, to_status, actor_id, reason, created_at
		FROM inquiry_events WHERE inquiry_id = $1 ORDER BY position
	`, inquiryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.InquiryEvent
	for rows.Next() {
		var e models.InquiryEvent
		if err := rows.Scan(&e.ID, &e.InquiryID, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListDecisions implements store.Store
func (s *Store) ListDecisions(ctx context.Context, inquiryID string) ([]*models.InquiryDecision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, inquiry_id, decision, reviewer_id, note, created_at
		FROM inquiry_decisions WHERE inquiry_id = $1 ORDER BY created_at, id
	`, inquiryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.InquiryDecision
	for rows.Next() {
		var d models.InquiryDecision
		if err := rows.Scan(&d.ID, &d.InquiryID, &d.Decision, &d.ReviewerID, &d.Note, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ListMessages implements store.Store
func (s *Store) ListMessages(ctx context.Context, inquiryID string) ([]*models.Message, error) {
	return s.queryMessages(ctx, "SELECT "+messageColumns+" FROM messages WHERE inquiry_id = $1 ORDER BY seq", inquiryID)
}

// ListMessagesByStatus implements store.Store
func (s *Store) ListMessagesByStatus(ctx context.Context, status models.MessageStatus) ([]*models.Message, error) {
	return s.queryMessages(ctx, "SELECT "+messageColumns+" FROM messages WHERE status = $1 ORDER BY sent_at, inquiry_id, seq", status)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	defer observe("list_messages", time.Now())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListReports implements store.Store
func (s *Store) ListReports(ctx context.Context, status models.ReportStatus) ([]*models.MessageReport, error) {
	query := "SELECT " + reportColumns + " FROM message_reports"
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.MessageReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats implements store.Store
func (s *Store) Stats(ctx context.Context) (*models.SystemStats, error) {
	defer observe("stats", time.Now())

	stats := &models.SystemStats{
		InquiriesByStatus: make(map[models.InquiryStatus]int, len(models.AllInquiryStatuses)),
	}
	for _, status := range models.AllInquiryStatuses {
		stats.InquiriesByStatus[status] = 0
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM inquiries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			status models.InquiryStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.InquiriesByStatus[status] = count
		stats.TotalInquiries += count
		if !status.IsTerminal() {
			stats.OpenInquiries += count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE flagged),
			COUNT(*) FILTER (WHERE delivery_mode = 'direct'),
			COUNT(*) FILTER (WHERE delivery_mode = 'moderated'),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			(SELECT COUNT(*) FROM message_reports WHERE status = 'open'),
			(SELECT COUNT(*) FROM deals)
		FROM messages
	`).Scan(
		&stats.TotalMessages,
		&stats.FlaggedMessages,
		&stats.DirectMessages,
		&stats.ModeratedMessages,
		&stats.PendingMessages,
		&stats.OpenReports,
		&stats.TotalDeals,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

const inquiryColumns = `id, buyer_id, seller_id, asset_id, budget_range, intended_use, timeline, message,
	status, completion_reason, closure_reason, review_note, version, created_at, updated_at, forwarded_at, closed_at`

const messageColumns = `id, inquiry_id, sender_id, sender_role, seq, content, status, delivery_mode,
	flagged, detector_matches, moderation, sent_at, delivered_at`

const reportColumns = `id, message_id, inquiry_id, reporter_id, reason, status, created_at, resolved_by, resolved_at`

func scanInquiry(row pgx.Row) (*models.Inquiry, error) {
	var inq models.Inquiry
	err := row.Scan(
		&inq.ID, &inq.BuyerID, &inq.SellerID, &inq.AssetID, &inq.BudgetRange, &inq.IntendedUse,
		&inq.Timeline, &inq.Message, &inq.Status, &inq.CompletionReason, &inq.ClosureReason,
		&inq.ReviewNote, &inq.Version, &inq.CreatedAt, &inq.UpdatedAt, &inq.ForwardedAt, &inq.ClosedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &inq, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(
		&m.ID, &m.InquiryID, &m.SenderID, &m.SenderRole, &m.Seq, &m.Content, &m.Status,
		&m.DeliveryMode, &m.Flagged, &m.DetectorMatches, &m.Moderation, &m.SentAt, &m.DeliveredAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(m.DetectorMatches) == 0 {
		m.DetectorMatches = nil
	}
	return &m, nil
}

func scanReport(row pgx.Row) (*models.MessageReport, error) {
	var r models.MessageReport
	err := row.Scan(&r.ID, &r.MessageID, &r.InquiryID, &r.ReporterID, &r.Reason, &r.Status, &r.CreatedAt, &r.ResolvedBy, &r.ResolvedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func getAsset(ctx context.Context, q querier, id string) (*models.Asset, error) {
	var a models.Asset
	err := q.QueryRow(ctx, `SELECT id, seller_id, name, status, created_at FROM assets WHERE id = $1`, id).
		Scan(&a.ID, &a.SellerID, &a.Name, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func getInquiry(ctx context.Context, q querier, id string, forUpdate bool) (*models.Inquiry, error) {
	query := "SELECT " + inquiryColumns + " FROM inquiries WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanInquiry(q.QueryRow(ctx, query, id))
}

func getMessage(ctx context.Context, q querier, id string, forUpdate bool) (*models.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanMessage(q.QueryRow(ctx, query, id))
}

func getReport(ctx context.Context, q querier, id string, forUpdate bool) (*models.MessageReport, error) {
	query := "SELECT " + reportColumns + " FROM message_reports WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanReport(q.QueryRow(ctx, query, id))
}

func getDeal(ctx context.Context, q querier, inquiryID string) (*models.Deal, error) {
	var (
		d     models.Deal
		price string
	)
	err := q.QueryRow(ctx, `
		SELECT id, inquiry_id, agreed_price::text, currency, payment_method, payment_instructions,
		       timeline, terms, status, created_by, created_at, updated_at
		FROM deals WHERE inquiry_id = $1
	`, inquiryID).Scan(
		&d.ID, &d.InquiryID, &price, &d.Currency, &d.PaymentMethod, &d.PaymentInstructions,
		&d.Timeline, &d.Terms, &d.Status, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	if d.AgreedPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse agreed price: %w", err)
	}
	return &d, nil
}

// mapErr translates driver errors into store sentinels
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func observe(queryType string, start time.Time) {
	monitoring.RecordDBQuery(queryType, time.Since(start))
}
