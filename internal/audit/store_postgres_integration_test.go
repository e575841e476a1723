//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vouch/pkg/domain"
	"vouch/pkg/testutil/containers"
)

func TestPostgresStoreAppendAndList(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	pg.ApplySchema(t, Schema)
	store := NewPostgresStore(pg.DB)

	ctx := context.Background()
	userID := id.UserID(uuid.New())
	verificationID := id.NewVerificationID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	// Appended out of order; the listing sorts by occurrence time.
	for _, e := range []Event{
		{
			Timestamp:      base.Add(time.Minute),
			UserID:         userID,
			VerificationID: verificationID,
			Actor:          "authority",
			Action:         ActionReconciled,
			Detail:         "cleared",
			RequestID:      "req-2",
		},
		{
			Timestamp:      base,
			UserID:         userID,
			VerificationID: verificationID,
			Actor:          "system",
			Action:         ActionIdentityPassed,
			RequestID:      "req-1",
		},
	} {
		require.NoError(t, store.Append(ctx, e))
	}

	other := Event{
		Timestamp:      base,
		UserID:         userID,
		VerificationID: id.NewVerificationID(),
		Actor:          "system",
		Action:         ActionWWCCPassed,
	}
	require.NoError(t, store.Append(ctx, other))

	events, err := store.ListByVerification(ctx, verificationID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, ActionIdentityPassed, events[0].Action)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, ActionReconciled, events[1].Action)
	assert.Equal(t, "cleared", events[1].Detail)
	assert.Equal(t, userID, events[1].UserID)
	assert.Equal(t, verificationID, events[1].VerificationID)
	assert.WithinDuration(t, base.Add(time.Minute), events[1].Timestamp, time.Millisecond)
}
