package draft

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tutorslots/internal/domain"
	"tutorslots/internal/metrics"
	"tutorslots/internal/slots"
)

// State of the draft for the current key.
type State string

const (
	StateEmpty State = "empty"
	StateDirty State = "dirty"
)

// Snapshot is what the presentation layer renders.
type Snapshot struct {
	Key      Key           `json:"key"`
	Loaded   bool          `json:"loaded"`
	State    State         `json:"state"`
	Dirty    bool          `json:"dirty"`
	Selected []domain.Slot `json:"selected"`
}

// Manager holds one tutor session's draft for the learner and week currently
// on screen. Every mutation writes the full selection to the store.
type Manager struct {
	store  Store
	logger *zerolog.Logger

	mu       sync.Mutex
	key      Key
	loaded   bool
	selected map[domain.Slot]struct{}
}

// NewManager creates a manager with nothing loaded.
func NewManager(store Store, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{store: store, logger: logger, selected: make(map[domain.Slot]struct{})}
}

// LoadForWeek switches the manager to (learnerID, weekStart) and reloads the
// persisted selection for it. It must run on every week navigation. On a
// store error nothing stays loaded, so toggles cannot land on the wrong week.
func (m *Manager) LoadForWeek(ctx context.Context, learnerID int64, weekStart time.Time) (Snapshot, error) {
	if learnerID <= 0 {
		return Snapshot{}, domain.Validation("invalid learner id %d", learnerID)
	}
	key := NewKey(learnerID, weekStart)

	m.mu.Lock()
	defer m.mu.Unlock()

	persisted, _, err := m.store.Get(ctx, key.String())
	if err != nil {
		m.loaded = false
		m.selected = make(map[domain.Slot]struct{})
		return Snapshot{}, domain.Transport("could not load draft", err)
	}

	sel := make(map[domain.Slot]struct{}, len(persisted))
	for _, s := range persisted {
		if slots.ValidateSlot(s) != nil {
			m.logger.Warn().Str("key", key.String()).Int("day", s.DayInWeek).Int("slot", s.SlotIndex).
				Msg("dropping invalid persisted slot")
			continue
		}
		sel[s] = struct{}{}
	}

	m.key = key
	m.loaded = true
	m.selected = sel
	m.logger.Debug().Str("key", key.String()).Int("slots", len(sel)).Msg("draft loaded")
	return m.snapshotLocked(), nil
}

// Toggle adds (day, slotIndex) when absent and removes it when present, then
// persists the full selection. The in-memory change is undone if the write
// fails.
func (m *Manager) Toggle(ctx context.Context, day, slotIndex int) (Snapshot, error) {
	s := domain.Slot{DayInWeek: day, SlotIndex: slotIndex}
	if err := slots.ValidateSlot(s); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return Snapshot{}, domain.Validation("select a learner and week first")
	}

	_, present := m.selected[s]
	action := "add"
	if present {
		delete(m.selected, s)
		action = "remove"
	} else {
		m.selected[s] = struct{}{}
	}

	if err := m.store.Set(ctx, m.key.String(), m.listLocked()); err != nil {
		if present {
			m.selected[s] = struct{}{}
		} else {
			delete(m.selected, s)
		}
		return Snapshot{}, domain.Transport("could not save draft", err)
	}

	metrics.IncDraftToggle(action)
	return m.snapshotLocked(), nil
}

// Clear removes the persisted entry for the current key and empties the
// selection.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return domain.Validation("select a learner and week first")
	}
	if err := m.store.Remove(ctx, m.key.String()); err != nil {
		return domain.Transport("could not clear draft", err)
	}
	m.selected = make(map[domain.Slot]struct{})
	metrics.IncDraftCleared("user")
	m.logger.Debug().Str("key", m.key.String()).Msg("draft cleared")
	return nil
}

// Commit removes the submitted slots from the draft of key after a
// successful submission. Slots toggled on while the submission was in
// flight stay in the draft; the entry is removed only when nothing is left.
// Drafts of other weeks are untouched.
func (m *Manager) Commit(ctx context.Context, key Key, submitted []domain.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	onScreen := m.loaded && m.key == key
	remaining := make(map[domain.Slot]struct{})
	if onScreen {
		for s := range m.selected {
			remaining[s] = struct{}{}
		}
	} else {
		persisted, _, err := m.store.Get(ctx, key.String())
		if err != nil {
			return domain.Transport("could not clear draft", err)
		}
		for _, s := range persisted {
			remaining[s] = struct{}{}
		}
	}
	for _, s := range submitted {
		delete(remaining, s)
	}

	if len(remaining) == 0 {
		if err := m.store.Remove(ctx, key.String()); err != nil {
			return domain.Transport("could not clear draft", err)
		}
		metrics.IncDraftCleared("commit")
	} else {
		if err := m.store.Set(ctx, key.String(), sortedList(remaining)); err != nil {
			return domain.Transport("could not clear draft", err)
		}
		m.logger.Debug().Str("key", key.String()).Int("kept", len(remaining)).Msg("draft kept slots added during submission")
	}

	if onScreen {
		m.selected = remaining
	}
	return nil
}

// Current returns the key on screen and whether one is loaded.
func (m *Manager) Current() (Key, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key, m.loaded
}

// CurrentSelection returns the key on screen together with its selection,
// read under one lock. ok is false when nothing is loaded.
func (m *Manager) CurrentSelection() (Key, []domain.Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return Key{}, nil, false
	}
	return m.key, m.listLocked(), true
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	list := m.listLocked()
	state := StateEmpty
	if len(list) > 0 {
		state = StateDirty
	}
	return Snapshot{
		Key:      m.key,
		Loaded:   m.loaded,
		State:    state,
		Dirty:    len(list) > 0,
		Selected: list,
	}
}

func (m *Manager) listLocked() []domain.Slot {
	return sortedList(m.selected)
}

func sortedList(set map[domain.Slot]struct{}) []domain.Slot {
	out := make([]domain.Slot, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	slots.Sort(out)
	return out
}
