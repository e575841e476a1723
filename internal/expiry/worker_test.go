package expiry

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/profile"
	"vouch/internal/verification/models"
	"vouch/internal/verification/store/memory"
	id "vouch/pkg/domain"
)

var testNow = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Template
}

func (c *captureNotifier) Dispatch(_ string, template notify.Template, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, template)
}

type captureAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAuditor) Emit(_ context.Context, event audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func seedVerified(t *testing.T, records *memory.Store, expiry time.Time) *models.VerificationRecord {
	t.Helper()
	userID, err := id.ParseUserID(uuid.NewString())
	require.NoError(t, err)

	rec := models.NewRecord(userID, testNow.Add(-24*time.Hour))
	rec.SubmittedSurname = "Nguyen"
	rec.IdentityVerified = true
	rec.WWCCVerified = true
	rec.WWCCExpiry = &expiry
	models.RehydrateStatus(rec, models.StatusFullyVerified)
	require.NoError(t, records.Create(context.Background(), rec))
	return rec
}

func TestSweep(t *testing.T) {
	records := memory.New()
	profiles := profile.NewInMemoryStore()
	notifier := &captureNotifier{}
	auditor := &captureAuditor{}
	worker := New(records, profiles, slog.Default(),
		WithNotifier(notifier),
		WithAuditor(auditor),
	)
	ctx := context.Background()

	lapsed := seedVerified(t, records, testNow.Add(-time.Hour))
	current := seedVerified(t, records, testNow.Add(24*time.Hour))

	worker.Sweep(ctx, testNow)

	t.Run("lapsed clearance demoted", func(t *testing.T) {
		rec, err := records.Get(ctx, lapsed.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWWCCExpired, rec.Status())
		assert.False(t, rec.WWCCVerified)

		proj, err := profiles.Get(ctx, lapsed.UserID)
		require.NoError(t, err)
		assert.False(t, proj.WWCCVerified)
		assert.Equal(t, 2, proj.VerificationLevel)
		assert.True(t, proj.IdentityVerified, "identity verification survives a clearance expiry")
	})

	t.Run("current clearance untouched", func(t *testing.T) {
		rec, err := records.Get(ctx, current.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFullyVerified, rec.Status())
		assert.True(t, rec.WWCCVerified)
	})

	t.Run("user notified and trail written", func(t *testing.T) {
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, notify.TemplateWWCCExpired, notifier.sent[0])
		require.Len(t, auditor.events, 1)
		assert.Equal(t, audit.ActionClearanceExpired, auditor.events[0].Action)
		assert.Equal(t, lapsed.ID, auditor.events[0].VerificationID)
	})

	t.Run("second sweep is a no-op", func(t *testing.T) {
		worker.Sweep(ctx, testNow)
		require.Len(t, notifier.sent, 1)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	worker := New(memory.New(), profile.NewInMemoryStore(), slog.Default(),
		WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
