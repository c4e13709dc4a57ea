package flowstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShuttleSignup/internal/flowstore"
	"ShuttleSignup/internal/model"
	pkgerrors "ShuttleSignup/pkg/errors"
)

type failingKV struct{}

func (failingKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("unavailable")
}

func (failingKV) Set(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func (failingKV) Remove(context.Context, string) error {
	return errors.New("unavailable")
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func savedState(sessionID string, at time.Time) model.FlowState {
	role := model.RoleVolunteer
	event := "evt-42"
	state := model.NewFlowState(sessionID)
	state.CurrentStep = model.StepPersonalInfo
	state.CompletedSteps[model.StepIdentity] = true
	state.CompletedSteps[model.StepEvent] = true
	state.Role = &role
	state.SelectedEventID = &event
	state.LastSavedAt = &at
	return state
}

func TestSaveWritesBothTiers(t *testing.T) {
	session := flowstore.NewMemoryKV()
	shared := flowstore.NewMemoryKV()
	store := flowstore.New(session, shared)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, savedState("s1", time.Now())))

	_, found, err := session.Get(ctx, flowstore.SessionKey("s1"))
	require.NoError(t, err)
	assert.True(t, found)

	data, found, err := shared.Get(ctx, flowstore.SharedKey)
	require.NoError(t, err)
	require.True(t, found)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "personal-info", record["currentStep"])
	assert.Equal(t, "s1", record["sessionId"])
	assert.ElementsMatch(t, []any{"identity", "event"}, record["completedSteps"])
	assert.Equal(t, "s1", store.LastSessionID())
}

func TestLoadRoundTrip(t *testing.T) {
	store := flowstore.New(flowstore.NewMemoryKV(), flowstore.NewMemoryKV())
	ctx := context.Background()
	at := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	want := savedState("s1", at)

	require.NoError(t, store.Save(ctx, want))

	got, ok := store.Load(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, want.CurrentStep, got.CurrentStep)
	assert.Equal(t, want.CompletedSteps, got.CompletedSteps)
	assert.Equal(t, *want.Role, *got.Role)
	assert.Equal(t, *want.SelectedEventID, *got.SelectedEventID)
	assert.True(t, want.LastSavedAt.Equal(*got.LastSavedAt))
}

func TestLoadPrefersSessionTier(t *testing.T) {
	session := flowstore.NewMemoryKV()
	shared := flowstore.NewMemoryKV()
	store := flowstore.New(session, shared)
	ctx := context.Background()

	older := savedState("s1", time.Now().Add(-time.Hour))
	older.CurrentStep = model.StepEvent
	require.NoError(t, store.Save(ctx, older))

	// 共享级被另一个会话覆盖
	newer := savedState("s2", time.Now())
	require.NoError(t, shared.Set(ctx, flowstore.SharedKey, mustRecord(t, newer)))

	got, ok := store.Load(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, model.StepEvent, got.CurrentStep)
}

func TestLoadFallsBackToSharedTier(t *testing.T) {
	session := flowstore.NewMemoryKV()
	shared := flowstore.NewMemoryKV()
	store := flowstore.New(session, shared)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, savedState("s1", time.Now())))
	require.NoError(t, session.Remove(ctx, flowstore.SessionKey("s1")))

	got, ok := store.Load(ctx, "unknown-session")
	require.True(t, ok)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "s1", store.LastSessionID())
}

func TestLoadExpiredRecordIsDiscarded(t *testing.T) {
	session := flowstore.NewMemoryKV()
	shared := flowstore.NewMemoryKV()
	clock := &fixedClock{now: time.Now()}
	store := flowstore.New(session, shared, flowstore.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, savedState("s1", clock.now.Add(-25*time.Hour))))

	_, ok := store.Load(ctx, "s1")
	assert.False(t, ok)
	assert.Equal(t, 0, shared.Len())
	assert.Equal(t, 0, session.Len())
}

func TestLoadExpiredSessionTierKeepsFreshSharedTier(t *testing.T) {
	session := flowstore.NewMemoryKV()
	shared := flowstore.NewMemoryKV()
	clock := &fixedClock{now: time.Now()}
	store := flowstore.New(session, shared, flowstore.WithClock(clock.Now))
	ctx := context.Background()

	stale := savedState("sess-old", clock.now.Add(-25*time.Hour))
	require.NoError(t, session.Set(ctx, flowstore.SessionKey("sess-old"), mustRecord(t, stale)))
	// 同一设备上较新的会话
	fresh := savedState("sess-new", clock.now.Add(-time.Hour))
	require.NoError(t, shared.Set(ctx, flowstore.SharedKey, mustRecord(t, fresh)))

	got, ok := store.Load(ctx, "sess-old")
	require.True(t, ok)
	assert.Equal(t, "sess-new", got.SessionID)
	assert.Equal(t, 0, session.Len())
	assert.Equal(t, 1, shared.Len())

	again, ok := store.Load(ctx, "")
	require.True(t, ok)
	assert.Equal(t, "sess-new", again.SessionID)
}

func TestLoadRecordWithinTTL(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	store := flowstore.New(flowstore.NewMemoryKV(), flowstore.NewMemoryKV(),
		flowstore.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, savedState("s1", clock.now.Add(-23*time.Hour))))

	_, ok := store.Load(ctx, "s1")
	assert.True(t, ok)
}

func TestCustomTTL(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	store := flowstore.New(flowstore.NewMemoryKV(), flowstore.NewMemoryKV(),
		flowstore.WithClock(clock.Now), flowstore.WithTTL(time.Hour))

	assert.True(t, store.Expired(nil))
	old := clock.now.Add(-2 * time.Hour)
	assert.True(t, store.Expired(&old))
	fresh := clock.now.Add(-time.Minute)
	assert.False(t, store.Expired(&fresh))
}

func TestLoadCorruptRecordIsAbsent(t *testing.T) {
	shared := flowstore.NewMemoryKV()
	store := flowstore.New(flowstore.NewMemoryKV(), shared)
	ctx := context.Background()

	require.NoError(t, shared.Set(ctx, flowstore.SharedKey, []byte("{not json")))

	_, ok := store.Load(ctx, "")
	assert.False(t, ok)
	assert.Equal(t, 0, shared.Len())
}

func TestLoadDropsUnknownSteps(t *testing.T) {
	shared := flowstore.NewMemoryKV()
	store := flowstore.New(flowstore.NewMemoryKV(), shared)
	ctx := context.Background()

	raw := `{"currentStep":"payment","completedSteps":["identity","payment"],` +
		`"role":"astronaut","sessionId":"s9","lastSavedAt":"` +
		time.Now().UTC().Format(time.RFC3339) + `"}`
	require.NoError(t, shared.Set(ctx, flowstore.SharedKey, []byte(raw)))

	got, ok := store.Load(ctx, "")
	require.True(t, ok)
	assert.Equal(t, model.StepIdentity, got.CurrentStep)
	assert.Equal(t, []model.Step{model.StepIdentity}, got.CompletedList())
	assert.Nil(t, got.Role)
}

func TestStorageFailuresAreReported(t *testing.T) {
	store := flowstore.New(failingKV{}, failingKV{})
	ctx := context.Background()

	err := store.Save(ctx, savedState("s1", time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.FlowStorage)

	_, ok := store.Load(ctx, "s1")
	assert.False(t, ok)

	assert.NotPanics(t, func() { store.Clear(ctx, "s1") })
}

func TestClearRemovesBothTiers(t *testing.T) {
	session := flowstore.NewMemoryKV()
	shared := flowstore.NewMemoryKV()
	store := flowstore.New(session, shared)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, savedState("s1", time.Now())))
	store.Clear(ctx, "")

	assert.Equal(t, 0, session.Len())
	assert.Equal(t, 0, shared.Len())
	_, ok := store.Load(ctx, "s1")
	assert.False(t, ok)
}

func mustRecord(t *testing.T, state model.FlowState) []byte {
	t.Helper()
	data, err := json.Marshal(state.ToRecord())
	require.NoError(t, err)
	return data
}
