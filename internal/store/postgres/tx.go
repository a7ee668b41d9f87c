package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/store"
)

// tx runs statements inside one pgx transaction
type tx struct {
	q querier
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return getAsset(ctx, t.q, id)
}

func (t *tx) GetInquiry(ctx context.Context, id string) (*models.Inquiry, error) {
	return getInquiry(ctx, t.q, id, false)
}

func (t *tx) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return getMessage(ctx, t.q, id, false)
}

func (t *tx) GetReport(ctx context.Context, id string) (*models.MessageReport, error) {
	return getReport(ctx, t.q, id, false)
}

func (t *tx) GetDealByInquiry(ctx context.Context, inquiryID string) (*models.Deal, error) {
	return getDeal(ctx, t.q, inquiryID)
}

func (t *tx) LockInquiry(ctx context.Context, id string) (*models.Inquiry, error) {
	return getInquiry(ctx, t.q, id, true)
}

func (t *tx) FindActiveInquiry(ctx context.Context, buyerID, assetID string) (*models.Inquiry, error) {
	return scanInquiry(t.q.QueryRow(ctx, `
		SELECT `+inquiryColumns+` FROM inquiries
		WHERE buyer_id = $1 AND asset_id = $2 AND status NOT IN ('REJECTED', 'COMPLETED')
		LIMIT 1
	`, buyerID, assetID))
}

func (t *tx) InsertInquiry(ctx context.Context, inq *models.Inquiry) error {
	if inq.Version == 0 {
		inq.Version = 1
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO inquiries (`+inquiryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		inq.ID, inq.BuyerID, inq.SellerID, inq.AssetID, inq.BudgetRange, inq.IntendedUse,
		inq.Timeline, inq.Message, inq.Status, inq.CompletionReason, inq.ClosureReason,
		inq.ReviewNote, inq.Version, inq.CreatedAt, inq.UpdatedAt, inq.ForwardedAt, inq.ClosedAt,
	)
	return mapErr(err)
}

func (t *tx) UpdateInquiry(ctx context.Context, inq *models.Inquiry, expected models.InquiryStatus, expectedVersion int) error {
	result, err := t.q.Exec(ctx, `
		UPDATE inquiries SET
			budget_range = $4, intended_use = $5, timeline = $6, message = $7,
			status = $8, completion_reason = $9, closure_reason = $10, review_note = $11,
			version = version + 1, updated_at = $12, forwarded_at = $13, closed_at = $14
		WHERE id = $1 AND status = $2 AND version = $3
	`,
		inq.ID, expected, expectedVersion,
		inq.BudgetRange, inq.IntendedUse, inq.Timeline, inq.Message,
		inq.Status, inq.CompletionReason, inq.ClosureReason, inq.ReviewNote,
		inq.UpdatedAt, inq.ForwardedAt, inq.ClosedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if result.RowsAffected() == 0 {
		if _, err := getInquiry(ctx, t.q, inq.ID, false); err != nil {
			return err
		}
		return store.ErrStale
	}
	inq.Version = expectedVersion + 1
	return nil
}

func (t *tx) InsertDecision(ctx context.Context, d *models.InquiryDecision) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO inquiry_decisions (id, inquiry_id, decision, reviewer_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.InquiryID, d.Decision, d.ReviewerID, d.Note, d.CreatedAt)
	return mapErr(err)
}

func (t *tx) InsertEvent(ctx context.Context, e *models.InquiryEvent) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO inquiry_events (id, inquiry_id, from_status, to_status, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.InquiryID, e.FromStatus, e.ToStatus, e.ActorID, e.Reason, e.CreatedAt)
	return mapErr(err)
}

func (t *tx) NextMessageSeq(ctx context.Context, inquiryID string) (int64, error) {
	var seq int64
	err := t.q.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE inquiry_id = $1`, inquiryID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next message seq: %w", err)
	}
	return seq, nil
}

func (t *tx) InsertMessage(ctx context.Context, m *models.Message) error {
	matches := m.DetectorMatches
	if matches == nil {
		matches = []models.DetectorMatch{}
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		m.ID, m.InquiryID, m.SenderID, m.SenderRole, m.Seq, m.Content, m.Status,
		m.DeliveryMode, m.Flagged, matches, m.Moderation, m.SentAt, m.DeliveredAt,
	)
	return mapErr(err)
}

func (t *tx) LockMessage(ctx context.Context, id string) (*models.Message, error) {
	return getMessage(ctx, t.q, id, true)
}

func (t *tx) UpdateMessage(ctx context.Context, m *models.Message, expected models.MessageStatus) error {
	result, err := t.q.Exec(ctx, `
		UPDATE messages SET status = $3, moderation = $4, delivered_at = $5
		WHERE id = $1 AND status = $2
	`, m.ID, expected, m.Status, m.Moderation, m.DeliveredAt)
	if err != nil {
		return mapErr(err)
	}
	if result.RowsAffected() == 0 {
		if _, err := getMessage(ctx, t.q, m.ID, false); err != nil {
			return err
		}
		return store.ErrStale
	}
	return nil
}

func (t *tx) RejectPendingMessages(ctx context.Context, inquiryID string, moderation models.MessageModeration) ([]*models.Message, error) {
	rows, err := t.q.Query(ctx, `
		UPDATE messages SET status = 'REJECTED', moderation = $2
		WHERE inquiry_id = $1 AND status = 'PENDING'
		RETURNING `+messageColumns,
		inquiryID, moderation,
	)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *tx) InsertReport(ctx context.Context, r *models.MessageReport) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO message_reports (`+reportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.MessageID, r.InquiryID, r.ReporterID, r.Reason, r.Status, r.CreatedAt, r.ResolvedBy, r.ResolvedAt)
	return mapErr(err)
}

func (t *tx) LockReport(ctx context.Context, id string) (*models.MessageReport, error) {
	return getReport(ctx, t.q, id, true)
}

func (t *tx) UpdateReport(ctx context.Context, r *models.MessageReport) error {
	result, err := t.q.Exec(ctx, `
		UPDATE message_reports SET status = $2, resolved_by = $3, resolved_at = $4 WHERE id = $1
	`, r.ID, r.Status, r.ResolvedBy, r.ResolvedAt)
	if err != nil {
		return mapErr(err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) InsertDeal(ctx context.Context, d *models.Deal) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO deals (id, inquiry_id, agreed_price, currency, payment_method, payment_instructions,
		                   timeline, terms, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		d.ID, d.InquiryID, d.AgreedPrice.String(), d.Currency, d.PaymentMethod, d.PaymentInstructions,
		d.Timeline, d.Terms, d.Status, d.CreatedBy, d.CreatedAt, d.UpdatedAt,
	)
	return mapErr(err)
}

func (t *tx) GetIdempotency(ctx context.Context, scope, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := t.q.QueryRow(ctx, `
		SELECT scope, key, resource_id, request_hash, created_at
		FROM idempotency_keys WHERE scope = $1 AND key = $2 FOR UPDATE
	`, scope, key).Scan(&rec.Scope, &rec.Key, &rec.ResourceID, &rec.RequestHash, &rec.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (t *tx) PutIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO idempotency_keys (scope, key, resource_id, request_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, key) DO UPDATE SET
			resource_id = EXCLUDED.resource_id,
			request_hash = EXCLUDED.request_hash,
			created_at = EXCLUDED.created_at
	`, rec.Scope, rec.Key, rec.ResourceID, rec.RequestHash, rec.CreatedAt)
	return mapErr(err)
}
