package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutorslots/internal/domain"
)

var (
	weekMar04 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	weekMar11 = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) ([]domain.Slot, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]domain.Slot), args.Bool(1), args.Error(2)
}

func (m *mockStore) Set(ctx context.Context, key string, selection []domain.Slot) error {
	return m.Called(ctx, key, selection).Error(0)
}

func (m *mockStore) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestKey(t *testing.T) {
	k := NewKey(5, time.Date(2024, 3, 7, 13, 0, 0, 0, time.UTC))
	assert.Equal(t, Key{LearnerID: 5, Week: "2024-03-04"}, k)
	assert.Equal(t, "5:2024-03-04", k.String())
	assert.Equal(t, weekMar04, k.WeekStart())
}

func TestToggleRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	_, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 3, 7)
	require.NoError(t, err)
	before := m.Snapshot().Selected

	snap, err := m.Toggle(ctx, 2, 10)
	require.NoError(t, err)
	assert.Len(t, snap.Selected, 2)

	snap, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, before, snap.Selected)
}

func TestEmptyDirtyTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, nil)

	snap, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, snap.State)
	assert.False(t, snap.Dirty)

	snap, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, StateDirty, snap.State)
	assert.True(t, snap.Dirty)

	snap, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, snap.State)

	// The last removal persists an empty set rather than deleting the key.
	v, ok, err := store.Get(ctx, "5:2024-03-04")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestNavigationReloadsWeekVerbatim(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	_, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)

	snap, err := m.LoadForWeek(ctx, 5, weekMar11)
	require.NoError(t, err)
	assert.Empty(t, snap.Selected, "next week must not inherit the previous selection")

	_, err = m.Toggle(ctx, 4, 4)
	require.NoError(t, err)

	snap, err = m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	assert.Equal(t, []domain.Slot{{DayInWeek: 2, SlotIndex: 10}}, snap.Selected)

	snap, err = m.LoadForWeek(ctx, 5, weekMar11)
	require.NoError(t, err)
	assert.Equal(t, []domain.Slot{{DayInWeek: 4, SlotIndex: 4}}, snap.Selected)
}

func TestLearnersDoNotLeak(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	_, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)

	snap, err := m.LoadForWeek(ctx, 6, weekMar04)
	require.NoError(t, err)
	assert.Empty(t, snap.Selected)
}

func TestClearRemovesEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, nil)

	_, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)

	require.NoError(t, m.Clear(ctx))
	assert.Equal(t, StateEmpty, m.Snapshot().State)

	_, ok, err := store.Get(ctx, "5:2024-03-04")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitOnlyTouchesItsWeek(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, nil)

	_, err := m.LoadForWeek(ctx, 5, weekMar11)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 3, 3)
	require.NoError(t, err)
	_, err = m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, NewKey(5, weekMar04), []domain.Slot{{DayInWeek: 2, SlotIndex: 10}}))
	assert.Empty(t, m.Snapshot().Selected)

	v, ok, err := store.Get(ctx, "5:2024-03-11")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []domain.Slot{{DayInWeek: 3, SlotIndex: 3}}, v)
}

func TestCommitOfOtherWeekKeepsScreen(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	_, err := m.LoadForWeek(ctx, 5, weekMar11)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 3, 3)
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, NewKey(5, weekMar04), []domain.Slot{{DayInWeek: 2, SlotIndex: 10}}))
	assert.Len(t, m.Snapshot().Selected, 1)
}

func TestCommitKeepsSlotsAddedDuringSubmission(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, nil)

	_, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)
	_, submitted, _ := m.CurrentSelection()

	// Toggled on after the selection was sent.
	_, err = m.Toggle(ctx, 3, 20)
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, NewKey(5, weekMar04), submitted))
	want := []domain.Slot{{DayInWeek: 3, SlotIndex: 20}}
	assert.Equal(t, want, m.Snapshot().Selected)
	v, ok, err := store.Get(ctx, "5:2024-03-04")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, v)
}

func TestCommitOfOtherWeekKeepsUnsentSlots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "5:2024-03-04", []domain.Slot{{DayInWeek: 2, SlotIndex: 10}, {DayInWeek: 4, SlotIndex: 1}}))

	m := NewManager(store, nil)
	_, err := m.LoadForWeek(ctx, 5, weekMar11)
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, NewKey(5, weekMar04), []domain.Slot{{DayInWeek: 2, SlotIndex: 10}}))
	v, ok, err := store.Get(ctx, "5:2024-03-04")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []domain.Slot{{DayInWeek: 4, SlotIndex: 1}}, v)
}

func TestToggleValidation(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	_, err := m.Toggle(ctx, 2, 10)
	assert.ErrorIs(t, err, domain.ErrValidation, "nothing loaded")

	_, err = m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 8, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = m.Toggle(ctx, 2, 48)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.LoadForWeek(ctx, 0, weekMar04)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestToggleRollsBackOnStoreError(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("Get", ctx, "5:2024-03-04").Return(nil, false, nil).Once()
	store.On("Set", ctx, "5:2024-03-04", []domain.Slot{{DayInWeek: 2, SlotIndex: 10}}).Return(errors.New("down")).Once()

	m := NewManager(store, nil)
	_, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)

	_, err = m.Toggle(ctx, 2, 10)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Empty(t, m.Snapshot().Selected)
	store.AssertExpectations(t)
}

func TestLoadFailureUnloads(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("Get", ctx, "5:2024-03-04").Return([]domain.Slot{{DayInWeek: 2, SlotIndex: 1}}, true, nil).Once()
	store.On("Get", ctx, "5:2024-03-11").Return(nil, false, errors.New("timeout")).Once()

	m := NewManager(store, nil)
	_, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)

	_, err = m.LoadForWeek(ctx, 5, weekMar11)
	assert.ErrorIs(t, err, domain.ErrTransport)
	_, loaded := m.Current()
	assert.False(t, loaded)

	_, err = m.Toggle(ctx, 2, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoadDropsInvalidPersistedSlots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "5:2024-03-04", []domain.Slot{{DayInWeek: 2, SlotIndex: 10}, {DayInWeek: 0, SlotIndex: 99}}))

	snap, err := NewManager(store, nil).LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	assert.Equal(t, []domain.Slot{{DayInWeek: 2, SlotIndex: 10}}, snap.Selected)
}

func TestCurrentSelection(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)
	_, _, ok := m.CurrentSelection()
	assert.False(t, ok)

	_, err := m.LoadForWeek(ctx, 5, weekMar04)
	require.NoError(t, err)
	_, err = m.Toggle(ctx, 2, 10)
	require.NoError(t, err)

	key, sel, ok := m.CurrentSelection()
	require.True(t, ok)
	assert.Equal(t, NewKey(5, weekMar04), key)
	assert.Equal(t, []domain.Slot{{DayInWeek: 2, SlotIndex: 10}}, sel)

	_, err = m.LoadForWeek(ctx, 5, weekMar11)
	require.NoError(t, err)
	key, sel, ok = m.CurrentSelection()
	require.True(t, ok)
	assert.Equal(t, NewKey(5, weekMar11), key)
	assert.Empty(t, sel)
}
