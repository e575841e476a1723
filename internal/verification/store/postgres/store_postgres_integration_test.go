//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/testutil/containers"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	pg.ApplySchema(t, Schema)
	return New(pg.DB)
}

func newUserID(t *testing.T) id.UserID {
	t.Helper()
	userID, err := id.ParseUserID("a2f1c9a0-1b2c-4d3e-8f90-0a1b2c3d4e5f")
	require.NoError(t, err)
	return userID
}

func fullRecord(t *testing.T) *models.VerificationRecord {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := models.NewRecord(newUserID(t), now)

	rec.SubmittedSurname = "Nguyen"
	rec.SubmittedGivenNames = "Thi Minh"
	rec.SubmittedDOB = "1990-04-02"
	rec.SubmittedCountry = "Australia"
	rec.IdentityDocPath = "docs/licence.jpg"
	rec.SelfiePath = "docs/selfie.jpg"
	rec.ExtractedSurname = "NGUYEN"
	rec.ExtractedGivenNames = "THI MINH"
	rec.ExtractedDOB = "1990-04-02"
	rec.IdentityReasoning = "clean match"
	rec.IdentityIssues = []string{"glare on photo"}
	rec.IdentityVerified = true
	rec.IdentityVerifiedAt = &now

	rec.WWCCMethod = models.WWCCMethodGrantDocument
	rec.WWCCDocPath = "docs/grant.txt"
	rec.SubmittedWWCCNumber = "WWC1234567A"
	rec.ExtractedWWCCNumber = "WWC1234567A"
	rec.WWCCSurname = "NGUYEN"
	rec.WWCCFirstName = "THI"
	rec.ClearanceType = "Employee"
	expiry := now.AddDate(5, 0, 0)
	rec.WWCCExpiry = &expiry
	rec.WWCCIssues = []string{}
	rec.WWCCSubmittedAt = &now

	return rec
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	rec := fullRecord(t)
	require.NoError(t, store.Create(ctx, rec))

	t.Run("get preserves every field", func(t *testing.T) {
		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)

		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.UserID, got.UserID)
		assert.Equal(t, rec.Status(), got.Status())
		assert.Equal(t, rec.SubmittedSurname, got.SubmittedSurname)
		assert.Equal(t, rec.SubmittedGivenNames, got.SubmittedGivenNames)
		assert.Equal(t, rec.SubmittedDOB, got.SubmittedDOB)
		assert.Equal(t, rec.IdentityIssues, got.IdentityIssues)
		assert.True(t, got.IdentityVerified)
		require.NotNil(t, got.IdentityVerifiedAt)
		assert.WithinDuration(t, *rec.IdentityVerifiedAt, *got.IdentityVerifiedAt, time.Millisecond)
		assert.Equal(t, rec.WWCCMethod, got.WWCCMethod)
		assert.Equal(t, rec.SubmittedWWCCNumber, got.SubmittedWWCCNumber)
		require.NotNil(t, got.WWCCExpiry)
		assert.WithinDuration(t, *rec.WWCCExpiry, *got.WWCCExpiry, time.Millisecond)
	})

	t.Run("get by user returns latest", func(t *testing.T) {
		got, err := store.GetByUser(ctx, rec.UserID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := store.Get(ctx, id.NewVerificationID())
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("update lands", func(t *testing.T) {
		rec.RejectionReason = "document unreadable"
		require.NoError(t, store.Update(ctx, rec))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "document unreadable", got.RejectionReason)
	})

	t.Run("update of missing record is not found", func(t *testing.T) {
		ghost := fullRecord(t)
		require.ErrorIs(t, store.Update(ctx, ghost), sentinel.ErrNotFound)
	})
}

func TestPostgresStoreClaim(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	rec := fullRecord(t)
	models.RehydrateStatus(rec, models.StatusWWCCPending)
	require.NoError(t, store.Create(ctx, rec))

	require.NoError(t, store.Claim(ctx, rec.ID, models.StatusWWCCPending, models.StatusWWCCProcessing))

	err := store.Claim(ctx, rec.ID, models.StatusWWCCPending, models.StatusWWCCProcessing)
	require.ErrorIs(t, err, sentinel.ErrConflict)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWWCCProcessing, got.Status())
}

func TestPostgresStoreFinders(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	active := fullRecord(t)
	models.RehydrateStatus(active, models.StatusWWCCPending)
	require.NoError(t, store.Create(ctx, active))

	terminal := fullRecord(t)
	terminalUser, err := id.ParseUserID("b3e2d8b1-2c3d-4e4f-9a01-1b2c3d4e5f60")
	require.NoError(t, err)
	terminal.UserID = terminalUser
	models.RehydrateStatus(terminal, models.StatusFullyVerified)
	require.NoError(t, store.Create(ctx, terminal))

	t.Run("check number lookup is case-insensitive and skips terminal records", func(t *testing.T) {
		matches, err := store.FindByCheckNumber(ctx, "wwc1234567a")
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, active.ID, matches[0].ID)
	})

	t.Run("surname lookup trims and folds case", func(t *testing.T) {
		matches, err := store.FindBySubmittedSurname(ctx, "  nguyen ")
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, active.ID, matches[0].ID)
	})

	t.Run("expired clearances", func(t *testing.T) {
		lapsed := time.Now().UTC().Add(-24 * time.Hour)
		terminal.WWCCExpiry = &lapsed
		require.NoError(t, store.Update(ctx, terminal))

		expired, err := store.FindExpiredClearances(ctx, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, terminal.ID, expired[0].ID)
	})
}
