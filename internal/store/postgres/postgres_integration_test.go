//go:build integration

package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/database"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/aimerfeng/DomainDesk/migrations"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var testStore *Store

func TestMain(m *testing.M) {
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	var container *tcpostgres.PostgresContainer
	if dsn == "" {
		c, err := tcpostgres.Run(ctx,
			"postgres:16",
			tcpostgres.WithDatabase("domaindesk"),
			tcpostgres.WithUsername("testuser"),
			tcpostgres.WithPassword("testpass"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			println("Skipping postgres store tests: container unavailable:", err.Error())
			os.Exit(0)
		}
		container = c
		dsn, err = c.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = c.Terminate(ctx)
			os.Exit(1)
		}
	}

	if err := database.RunMigrations(dsn, migrations.FS, ""); err != nil {
		println("migration failed:", err.Error())
		os.Exit(1)
	}
	db, err := database.New(ctx, config.DatabaseConfig{URL: dsn, MaxConns: 10})
	if err != nil {
		println("connect failed:", err.Error())
		os.Exit(1)
	}
	testStore = New(db.Pool)

	code := m.Run()

	db.Close()
	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func seed(t *testing.T) (*models.Asset, *models.Inquiry) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	asset := &models.Asset{ID: uuid.New().String(), SellerID: "seller-" + uuid.NewString(), Name: "example.com", Status: models.AssetStatusListed}
	require.NoError(t, testStore.UpsertAsset(ctx, asset))

	inq := &models.Inquiry{
		ID:          uuid.New().String(),
		BuyerID:     "buyer-" + uuid.NewString(),
		SellerID:    asset.SellerID,
		AssetID:     asset.ID,
		BudgetRange: "$1k-$5k",
		IntendedUse: "startup",
		Message:     "interested",
		Status:      models.InquiryStatusPendingReview,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, testStore.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertInquiry(ctx, inq)
	}))
	return asset, inq
}

func TestPostgres_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	_, inq := seed(t)

	err := testStore.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockInquiry(ctx, inq.ID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		locked.Status = models.InquiryStatusForwarded
		locked.ForwardedAt = &now
		return tx.UpdateInquiry(ctx, locked, models.InquiryStatusPendingReview, 1)
	})
	require.NoError(t, err)

	err = testStore.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockInquiry(ctx, inq.ID)
		if err != nil {
			return err
		}
		locked.Status = models.InquiryStatusRejected
		return tx.UpdateInquiry(ctx, locked, models.InquiryStatusPendingReview, 1)
	})
	assert.ErrorIs(t, err, store.ErrStale)

	got, err := testStore.GetInquiry(ctx, inq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InquiryStatusForwarded, got.Status)
	assert.Equal(t, 2, got.Version)
	assert.NotNil(t, got.ForwardedAt)
}

func TestPostgres_ActiveInquiryUniqueness(t *testing.T) {
	ctx := context.Background()
	_, inq := seed(t)

	dup := *inq
	dup.ID = uuid.New().String()
	err := testStore.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertInquiry(ctx, &dup)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestPostgres_MessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, inq := seed(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := testStore.WithinTx(ctx, func(tx store.Tx) error {
		for _, flagged := range []bool{false, true} {
			seq, err := tx.NextMessageSeq(ctx, inq.ID)
			if err != nil {
				return err
			}
			m := &models.Message{
				ID: uuid.New().String(), InquiryID: inq.ID, SenderID: inq.BuyerID,
				SenderRole: models.ParticipantBuyer, Seq: seq, Content: "hello",
				Status: models.MessageStatusDelivered, DeliveryMode: models.DeliveryModeDirect, SentAt: now,
			}
			if flagged {
				m.Status = models.MessageStatusPending
				m.DeliveryMode = models.DeliveryModeModerated
				m.Flagged = true
				m.DetectorMatches = []models.DetectorMatch{{Category: "phone", Value: "555-123-4567", Start: 0, End: 12}}
			}
			if err := tx.InsertMessage(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	thread, err := testStore.ListMessages(ctx, inq.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, int64(1), thread[0].Seq)
	assert.Nil(t, thread[0].DetectorMatches)
	require.Len(t, thread[1].DetectorMatches, 1)
	assert.Equal(t, "phone", thread[1].DetectorMatches[0].Category)

	var rejected []*models.Message
	err = testStore.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		rejected, err = tx.RejectPendingMessages(ctx, inq.ID, models.MessageModeration{
			Decision: models.ModerationRejected, ReviewerID: "SYSTEM", DecidedAt: now, Reason: models.RejectionInquiryClosed,
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.NotNil(t, rejected[0].Moderation)
	assert.Equal(t, models.RejectionInquiryClosed, rejected[0].Moderation.Reason)
}

func TestPostgres_DealExactlyOnce(t *testing.T) {
	ctx := context.Background()
	_, inq := seed(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := testStore.WithinTx(ctx, func(tx store.Tx) error {
				return tx.InsertDeal(ctx, &models.Deal{
					ID: uuid.New().String(), InquiryID: inq.ID, AgreedPrice: decimal.NewFromInt(5000),
					Currency: "USD", PaymentMethod: models.PaymentMethodEscrow, Status: models.DealStatusAgreed,
					CreatedBy: inq.BuyerID, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
				})
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	deal, err := testStore.GetDealByInquiry(ctx, inq.ID)
	require.NoError(t, err)
	assert.True(t, deal.AgreedPrice.Equal(decimal.NewFromInt(5000)))
}

func TestPostgres_Stats(t *testing.T) {
	ctx := context.Background()
	seed(t)

	stats, err := testStore.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalInquiries, 1)
	assert.GreaterOrEqual(t, stats.InquiriesByStatus[models.InquiryStatusPendingReview], 1)
}
