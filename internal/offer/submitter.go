package offer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tutorslots/internal/domain"
	"tutorslots/internal/draft"
	"tutorslots/internal/events"
	"tutorslots/internal/metrics"
	"tutorslots/internal/slots"
)

// ErrRequestInProgress is returned when a submission for the same learner
// and week is already running. The attempt is not queued.
var ErrRequestInProgress = errors.New("request in progress")

// API is the part of the booking API used for submission.
type API interface {
	FindExistingOfferID(ctx context.Context, learnerID int64) (*int64, error)
	CreateOffer(ctx context.Context, req domain.OfferCreate) (*domain.Offer, error)
	UpdateOffer(ctx context.Context, offerID int64, req domain.OfferUpdate) (*domain.Offer, error)
}

// Drafts is the draft state a submission reads and commits.
type Drafts interface {
	Current() (draft.Key, bool)
	CurrentSelection() (draft.Key, []domain.Slot, bool)
	Commit(ctx context.Context, key draft.Key, submitted []domain.Slot) error
}

// LookupPolicy decides whether an existing offer is looked up before
// submitting.
type LookupPolicy int

const (
	// PolicyAlwaysCreate never asks for an existing offer; every submission
	// creates a new one.
	PolicyAlwaysCreate LookupPolicy = iota
	// PolicyLookup updates the learner's existing offer when the API reports
	// one and creates otherwise.
	PolicyLookup
)

func (p LookupPolicy) String() string {
	if p == PolicyLookup {
		return "lookup"
	}
	return "always_create"
}

// Result describes a finished submission.
type Result struct {
	Key     draft.Key `json:"key"`
	OfferID int64     `json:"offerId"`
	Action  string    `json:"action"` // created or updated
	Stale   bool      `json:"stale"`
}

// SubmittedPayload is published with events.TypeOfferSubmitted.
type SubmittedPayload struct {
	Key     draft.Key `json:"key"`
	OfferID int64     `json:"offerId"`
	Action  string    `json:"action"`
}

// StatusPayload is published with events.TypeSubmissionStatus.
type StatusPayload struct {
	Key    draft.Key `json:"key"`
	Status Status    `json:"status"`
}

// Attempt is one finished submission as kept in the offer history.
type Attempt struct {
	At        time.Time `json:"at"`
	Session   string    `json:"session"`
	LearnerID int64     `json:"learnerId"`
	Week      string    `json:"week"`
	LessonID  int64     `json:"lessonId"`
	Outcome   string    `json:"outcome"` // created, updated, failed or invalid
	OfferID   int64     `json:"offerId,omitempty"`
	Slots     int       `json:"slots"`
	Message   string    `json:"message,omitempty"`
	Stale     bool      `json:"stale"`
}

// Recorder keeps submission history.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithPolicy sets the existing-offer lookup policy.
func WithPolicy(p LookupPolicy) Option {
	return func(s *Submitter) { s.policy = p }
}

// WithLocker adds a cross-process guard on top of the local one.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Submitter) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithRecorder writes every finished attempt to r.
func WithRecorder(r Recorder) Option {
	return func(s *Submitter) { s.recorder = r }
}

// Submitter runs the validate, decide, create-or-update workflow.
type Submitter struct {
	api      API
	bus      *events.EventBus
	logger   *zerolog.Logger
	fsm      *FSM
	policy   LookupPolicy
	locker   Locker
	lockTTL  time.Duration
	recorder Recorder

	mu       sync.Mutex
	inFlight map[draft.Key]struct{}
	status   map[draft.Key]Status
}

// NewSubmitter creates a submitter. bus may be nil.
func NewSubmitter(api API, bus *events.EventBus, logger *zerolog.Logger, opts ...Option) *Submitter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if bus == nil {
		bus = events.NewEventBus(logger)
	}
	s := &Submitter{
		api:      api,
		bus:      bus,
		logger:   logger,
		fsm:      NewFSM(),
		policy:   PolicyAlwaysCreate,
		lockTTL:  30 * time.Second,
		inFlight: make(map[draft.Key]struct{}),
		status:   make(map[draft.Key]Status),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the configured lookup policy.
func (s *Submitter) Policy() LookupPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy switches the lookup policy for subsequent submissions.
func (s *Submitter) SetPolicy(p LookupPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// Status returns the submission status of key; Idle when nothing ran.
func (s *Submitter) Status(key draft.Key) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[key]; ok {
		return st
	}
	return Status{State: StateIdle}
}

// Submit sends the draft currently loaded in drafts for lessonID. session
// scopes the published events. Validation failures make no API call.
func (s *Submitter) Submit(ctx context.Context, drafts Drafts, session string, lessonID int64) (Result, error) {
	key, selection, ok := drafts.CurrentSelection()
	if !ok {
		return Result{}, domain.Validation("select a learner and week first")
	}
	log := s.logger.With().Int64("learner_id", key.LearnerID).Str("week", key.Week).Logger()

	if !s.begin(key) {
		metrics.IncSubmission("in_progress")
		return Result{}, ErrRequestInProgress
	}
	defer s.end(key)

	s.advance(session, key, Status{State: StateValidating}, true)

	var verr error
	switch {
	case len(selection) == 0:
		verr = domain.Validation("select at least one slot")
	case lessonID <= 0:
		verr = domain.Validation("select a lesson")
	}
	if verr != nil {
		metrics.IncSubmission("invalid")
		s.advance(session, key, Status{State: StateFailed, Message: domain.UserMessage(verr)}, true)
		s.record(ctx, Attempt{Session: session, LearnerID: key.LearnerID, Week: key.Week, LessonID: lessonID,
			Outcome: "invalid", Slots: len(selection), Message: domain.UserMessage(verr)})
		return Result{}, verr
	}

	if s.locker != nil {
		release, acquired, err := s.locker.Acquire(ctx, key.String(), s.lockTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("submission lock unavailable, using local guard only")
		case !acquired:
			metrics.IncSubmission("in_progress")
			s.advance(session, key, Status{State: StateFailed, Message: ErrRequestInProgress.Error()}, true)
			return Result{}, ErrRequestInProgress
		default:
			defer release()
		}
	}

	offered, err := buildOfferedSlots(key, selection)
	if err != nil {
		metrics.IncSubmission("invalid")
		s.advance(session, key, Status{State: StateFailed, Message: domain.UserMessage(err)}, true)
		return Result{}, err
	}

	s.advance(session, key, Status{State: StateSubmitting}, true)

	offer, action, err := s.send(ctx, key.LearnerID, lessonID, offered)
	stale := !s.stillCurrent(drafts, key)
	if err != nil {
		metrics.IncSubmission("failed")
		log.Warn().Err(err).Bool("stale", stale).Msg("offer submission failed")
		s.advance(session, key, Status{State: StateFailed, Message: domain.UserMessage(err), Stale: stale}, !stale)
		s.record(ctx, Attempt{Session: session, LearnerID: key.LearnerID, Week: key.Week, LessonID: lessonID,
			Outcome: "failed", Slots: len(offered), Message: domain.UserMessage(err), Stale: stale})
		return Result{Key: key, Stale: stale}, err
	}

	if err := drafts.Commit(ctx, key, selection); err != nil {
		log.Error().Err(err).Int64("offer_id", offer.ID).Msg("offer accepted but draft not cleared")
	}

	metrics.IncSubmission(action)
	log.Info().Int64("offer_id", offer.ID).Str("action", action).Bool("stale", stale).Msg("offer submitted")

	res := Result{Key: key, OfferID: offer.ID, Action: action, Stale: stale}
	s.record(ctx, Attempt{Session: session, LearnerID: key.LearnerID, Week: key.Week, LessonID: lessonID,
		Outcome: action, OfferID: offer.ID, Slots: len(offered), Stale: stale})
	s.advance(session, key, Status{State: StateSucceeded, OfferID: offer.ID, Action: action, Stale: stale}, !stale)
	if !stale {
		s.publish(events.TypeDialogsClose, session, SubmittedPayload{Key: key, OfferID: offer.ID, Action: action})
		s.publish(events.TypeOfferSubmitted, session, SubmittedPayload{Key: key, OfferID: offer.ID, Action: action})
	}
	return res, nil
}

// send decides between create and update and performs the call.
func (s *Submitter) send(ctx context.Context, learnerID, lessonID int64, offered []domain.OfferedSlot) (*domain.Offer, string, error) {
	if s.Policy() == PolicyLookup {
		existing, err := s.api.FindExistingOfferID(ctx, learnerID)
		if err != nil {
			return nil, "", err
		}
		if existing != nil {
			offer, err := s.api.UpdateOffer(ctx, *existing, domain.OfferUpdate{LessonID: lessonID, OfferedSlots: offered})
			if err != nil {
				return nil, "", err
			}
			return offer, "updated", nil
		}
	}

	offer, err := s.api.CreateOffer(ctx, domain.OfferCreate{LearnerID: learnerID, LessonID: lessonID, OfferedSlots: offered})
	if err != nil {
		return nil, "", err
	}
	return offer, "created", nil
}

func (s *Submitter) begin(key draft.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Submitter) end(key draft.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// advance moves key to next.State when the transition is allowed and
// optionally publishes the new status.
func (s *Submitter) advance(session string, key draft.Key, next Status, notify bool) {
	s.mu.Lock()
	cur, ok := s.status[key]
	if !ok {
		cur = Status{State: StateIdle}
	}
	if !s.fsm.CanTransition(cur.State, next.State) {
		s.mu.Unlock()
		s.logger.Error().Str("from", string(cur.State)).Str("to", string(next.State)).Str("key", key.String()).
			Msg("invalid submission transition")
		return
	}
	next.UpdatedAt = time.Now()
	s.status[key] = next
	s.mu.Unlock()

	if notify {
		s.publish(events.TypeSubmissionStatus, session, StatusPayload{Key: key, Status: next})
	}
}

func (s *Submitter) record(ctx context.Context, a Attempt) {
	if s.recorder == nil {
		return
	}
	a.At = time.Now().UTC()
	if err := s.recorder.Record(ctx, a); err != nil {
		s.logger.Error().Err(err).Str("outcome", a.Outcome).Msg("record offer history")
	}
}

func (s *Submitter) publish(eventType, session string, payload any) {
	if err := s.bus.PublishJSON(eventType, session, payload); err != nil {
		s.logger.Error().Err(err).Str("type", eventType).Msg("publish event")
	}
}

func (s *Submitter) stillCurrent(drafts Drafts, key draft.Key) bool {
	cur, ok := drafts.Current()
	return ok && cur == key
}

// buildOfferedSlots turns the draft into absolute datetimes, earliest first.
func buildOfferedSlots(key draft.Key, selection []domain.Slot) ([]domain.OfferedSlot, error) {
	weekStart := key.WeekStart()
	out := make([]domain.OfferedSlot, 0, len(selection))
	for _, sl := range selection {
		at, err := slots.SlotToDateTime(weekStart, sl.DayInWeek, sl.SlotIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.OfferedSlot{SlotDateTime: at, SlotIndex: sl.SlotIndex})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotDateTime.Before(out[j].SlotDateTime) })
	return out, nil
}
