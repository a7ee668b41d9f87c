package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedInquiry(t *testing.T, s *Store, id string, status models.InquiryStatus) *models.Inquiry {
	t.Helper()
	inq := &models.Inquiry{
		ID:        id,
		BuyerID:   "buyer-" + id,
		SellerID:  "seller",
		AssetID:   "asset-" + id,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertInquiry(context.Background(), inq)
	})
	require.NoError(t, err)
	return inq
}

func TestWithinTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedInquiry(t, s, "inq-1", models.InquiryStatusPendingReview)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		inq, err := tx.LockInquiry(ctx, "inq-1")
		require.NoError(t, err)
		inq.Status = models.InquiryStatusForwarded
		require.NoError(t, tx.UpdateInquiry(ctx, inq, models.InquiryStatusPendingReview, 1))
		require.NoError(t, tx.InsertDeal(ctx, &models.Deal{ID: "d1", InquiryID: "inq-1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	inq, err := s.GetInquiry(ctx, "inq-1")
	require.NoError(t, err)
	assert.Equal(t, models.InquiryStatusPendingReview, inq.Status)
	assert.Equal(t, 1, inq.Version)
	_, err = s.GetDealByInquiry(ctx, "inq-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateInquiry_StaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedInquiry(t, s, "inq-1", models.InquiryStatusPendingReview)

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		inq, _ := tx.LockInquiry(ctx, "inq-1")
		inq.Status = models.InquiryStatusRejected
		return tx.UpdateInquiry(ctx, inq, models.InquiryStatusPendingReview, 7)
	})
	assert.ErrorIs(t, err, store.ErrStale)

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		inq, _ := tx.LockInquiry(ctx, "inq-1")
		inq.Status = models.InquiryStatusRejected
		return tx.UpdateInquiry(ctx, inq, models.InquiryStatusForwarded, 1)
	})
	assert.ErrorIs(t, err, store.ErrStale)
}

func TestInsertDeal_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := New()

	insert := func(id string) error {
		return s.WithinTx(ctx, func(tx store.Tx) error {
			return tx.InsertDeal(ctx, &models.Deal{ID: id, InquiryID: "inq-1"})
		})
	}
	require.NoError(t, insert("d1"))
	assert.ErrorIs(t, insert("d2"), store.ErrDuplicate)
}

func TestInsertInquiry_OneActivePerBuyerAndAsset(t *testing.T) {
	ctx := context.Background()
	s := New()
	first := seedInquiry(t, s, "inq-1", models.InquiryStatusPendingReview)

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertInquiry(ctx, &models.Inquiry{
			ID: "inq-2", BuyerID: first.BuyerID, AssetID: first.AssetID, Status: models.InquiryStatusPendingReview,
		})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestMessages_SeqAndRejectPending(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedInquiry(t, s, "inq-1", models.InquiryStatusForwarded)

	statuses := []models.MessageStatus{models.MessageStatusDelivered, models.MessageStatusPending, models.MessageStatusPending}
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		for i, status := range statuses {
			seq, err := tx.NextMessageSeq(ctx, "inq-1")
			if err != nil {
				return err
			}
			assert.Equal(t, int64(i+1), seq)
			if err := tx.InsertMessage(ctx, &models.Message{
				ID: "m" + string(rune('a'+i)), InquiryID: "inq-1", Seq: seq, Status: status,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var rejected []*models.Message
	err = s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		rejected, err = tx.RejectPendingMessages(ctx, "inq-1", models.MessageModeration{
			Decision: models.ModerationRejected, Reason: models.RejectionInquiryClosed,
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, rejected, 2)
	assert.Equal(t, int64(2), rejected[0].Seq)

	thread, err := s.ListMessages(ctx, "inq-1")
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, models.MessageStatusDelivered, thread[0].Status)
	assert.Equal(t, models.MessageStatusRejected, thread[1].Status)
	assert.Equal(t, models.RejectionInquiryClosed, thread[2].Moderation.Reason)

	pending, err := s.ListMessagesByStatus(ctx, models.MessageStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListInquiries_ParticipantFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedInquiry(t, s, "a", models.InquiryStatusPendingReview)
	forwarded := seedInquiry(t, s, "b", models.InquiryStatusPendingReview)

	now := time.Now().UTC()
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		forwarded.Status = models.InquiryStatusForwarded
		forwarded.ForwardedAt = &now
		return tx.UpdateInquiry(ctx, forwarded, models.InquiryStatusPendingReview, 1)
	}))

	sellerView, err := s.ListInquiries(ctx, store.InquiryFilter{ParticipantID: "seller"})
	require.NoError(t, err)
	require.Len(t, sellerView, 1)
	assert.Equal(t, "b", sellerView[0].ID)

	buyerView, err := s.ListInquiries(ctx, store.InquiryFilter{ParticipantID: "buyer-a"})
	require.NoError(t, err)
	require.Len(t, buyerView, 1)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalInquiries)
	assert.Equal(t, 2, stats.OpenInquiries)
	assert.Equal(t, 1, stats.InquiriesByStatus[models.InquiryStatusForwarded])
}

func TestIdempotencyAndReports(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetIdempotency(ctx, "scope", "k1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		if err := tx.PutIdempotency(ctx, &models.IdempotencyRecord{Scope: "scope", Key: "k1", ResourceID: "r1"}); err != nil {
			return err
		}
		rec, err := tx.GetIdempotency(ctx, "scope", "k1")
		if err != nil {
			return err
		}
		assert.Equal(t, "r1", rec.ResourceID)

		report := &models.MessageReport{ID: "r1", MessageID: "m1", ReporterID: "u1", Status: models.ReportStatusOpen}
		if err := tx.InsertReport(ctx, report); err != nil {
			return err
		}
		dup := *report
		dup.ID = "r2"
		assert.ErrorIs(t, tx.InsertReport(ctx, &dup), store.ErrDuplicate)
		return nil
	})
	require.NoError(t, err)

	open, err := s.ListReports(ctx, models.ReportStatusOpen)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestWithinTx_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
