package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxhealth/remindd/internal/adherence"
)

func newTestSession(callID string, createdAt time.Time) *CallSession {
	return &CallSession{
		CallID:          callID,
		RequestID:       "req-" + callID,
		PatientNumber:   "+12345678900",
		Status:          StatusInitiated,
		AdherenceStatus: adherence.StatusUnknown,
		CreatedAt:       createdAt,
	}
}

func TestMemory_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sess := newTestSession("CA1", time.Now())
	require.NoError(t, m.Create(ctx, sess))

	got, err := m.FindByCallID(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "CA1", got.CallID)
	assert.Equal(t, StatusInitiated, got.Status)
	assert.Equal(t, adherence.StatusUnknown, got.AdherenceStatus)
}

func TestMemory_FindMissing(t *testing.T) {
	m := NewMemory()

	_, err := m.FindByCallID(context.Background(), "CA404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Update(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newTestSession("CA1", time.Now())))

	err := m.Update(ctx, "CA1", Fields{
		Status:          StatusPtr(StatusAnswered),
		LastTranscript:  StringPtr("yes I took my pills"),
		AdherenceStatus: AdherencePtr(adherence.StatusFull),
	})
	require.NoError(t, err)

	got, err := m.FindByCallID(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, got.Status)
	assert.Equal(t, "yes I took my pills", got.LastTranscript)
	assert.Equal(t, adherence.StatusFull, got.AdherenceStatus)
	assert.False(t, got.UpdatedAt.IsZero())
	// Untouched fields survive partial updates.
	assert.Equal(t, "+12345678900", got.PatientNumber)
}

func TestMemory_UpdateMissing(t *testing.T) {
	m := NewMemory()
	err := m.Update(context.Background(), "CA404", Fields{Status: StatusPtr(StatusFailed)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newTestSession("CA1", time.Now())))

	got, err := m.FindByCallID(ctx, "CA1")
	require.NoError(t, err)
	got.Status = StatusFailed

	again, err := m.FindByCallID(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, again.Status)
}

func TestMemory_List(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Now()
	for i := 0; i < 5; i++ {
		sess := newTestSession(fmt.Sprintf("CA%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, m.Create(ctx, sess))
	}

	page1, total, err := m.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 2)
	// Newest first.
	assert.Equal(t, "CA4", page1[0].CallID)
	assert.Equal(t, "CA3", page1[1].CallID)

	page3, total, err := m.List(ctx, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page3, 1)
	assert.Equal(t, "CA0", page3[0].CallID)

	empty, total, err := m.List(ctx, 9, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, empty)
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{
		StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer,
		StatusVoicemailLeft, StatusSmsSent,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}

	live := []Status{StatusInitiated, StatusRinging, StatusInProgress, StatusAnswered}
	for _, s := range live {
		assert.False(t, s.Terminal(), string(s))
	}
}
