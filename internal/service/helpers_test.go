package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/kursadbilgin/outreach-engine/internal/classifier"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/provider"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore opens a file-backed sqlite store limited to one connection,
// which serialises transactions the way row locks do on Postgres.
func newTestStore(t *testing.T) *repository.GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "outreach.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&repository.CampaignModel{},
		&repository.StepModel{},
		&repository.RecipientModel{},
		&repository.DeliveryModel{},
		&repository.ResponseModel{},
	))
	return repository.NewGormStore(db)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error)
	sent   []provider.Message
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.ProviderResponse{StatusCode: 250, MessageID: "<msg-" + msg.To + ">"}, nil
}

func (f *fakeProvider) messages() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Message(nil), f.sent...)
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	waitFn func(ctx context.Context, scope string) error
	scopes []string
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	f.mu.Unlock()

	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type testEnv struct {
	store    *repository.GormStore
	provider *fakeProvider
	limiter  *fakeRateLimiter
	clock    *testClock
	service  *CampaignService
}

func newTestEnv(t *testing.T, policy ResponsePolicy) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    newTestStore(t),
		provider: &fakeProvider{},
		limiter:  &fakeRateLimiter{},
		clock:    newTestClock(),
	}

	dispatcher, err := NewDispatcher(env.provider, env.limiter, "outreach@acme.io", zap.NewNop())
	require.NoError(t, err)

	responses, err := NewResponseHandler(env.store, classifier.NewKeywordClassifier(), policy, zap.NewNop())
	require.NoError(t, err)

	env.service, err = NewCampaignService(env.store, dispatcher, responses, 0, zap.NewNop())
	require.NoError(t, err)
	env.service.setClock(env.clock.Now)

	return env
}

func defaultPolicy() ResponsePolicy {
	return ResponsePolicy{AutoClassify: true, AutoUnsubscribe: true}
}

func strPtr(s string) *string { return &s }

// seedWelcome creates the two-step "Welcome" campaign with one recipient and
// its first delivery queued.
func (e *testEnv) seedWelcome(t *testing.T, email string) (*domain.Campaign, domain.Recipient) {
	t.Helper()
	ctx := context.Background()

	campaign, err := e.service.CreateCampaign(ctx, "Welcome", []StepInput{
		{Position: 0, DelayMinutes: 0, Subject: "Hi", BodyText: strPtr("Hello {{ name }}")},
		{Position: 1, DelayMinutes: 1440, Subject: "Follow-up", BodyText: strPtr("Still there, {{ name }}?")},
	})
	require.NoError(t, err)

	added, err := e.service.AddRecipients(ctx, campaign.ID, []NewRecipient{{Email: email}})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	created, err := e.service.InitializeDeliveries(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	recipients, err := e.store.Recipients().ListByCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 1)

	return campaign, recipients[0]
}

func (e *testEnv) deliveries(t *testing.T, recipientID string) []domain.Delivery {
	t.Helper()

	deliveries, err := e.service.ListRecipientDeliveries(context.Background(), recipientID)
	require.NoError(t, err)
	return deliveries
}

func (e *testEnv) deliveryFor(t *testing.T, recipientID, stepID string) domain.Delivery {
	t.Helper()

	delivery, err := e.store.Deliveries().GetByRecipientAndStep(context.Background(), recipientID, stepID)
	require.NoError(t, err)
	return *delivery
}
