package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"tutorslots/internal/audit"
	"tutorslots/internal/domain"
	"tutorslots/internal/draft"
	"tutorslots/internal/events"
	"tutorslots/internal/offer"
	"tutorslots/internal/overlay"
	"tutorslots/internal/pattern"
	"tutorslots/internal/slots"
)

// PatternEditRequest is the body for PUT /api/v1/patterns.
type PatternEditRequest struct {
	Week  string        `json:"week"` // YYYY-MM-DD, any day of the week
	Slots []domain.Slot `json:"slots"`
}

// DraftLoadRequest is the body for POST /api/v1/draft/load.
type DraftLoadRequest struct {
	LearnerID int64  `json:"learnerId"`
	Week      string `json:"week"`
}

// SubmitRequest is the body for POST /api/v1/offers/submit.
type SubmitRequest struct {
	LessonID int64 `json:"lessonId"`
}

// AvailabilityResponse is the resolved grid of a tutor for a week.
type AvailabilityResponse struct {
	TutorID   int64         `json:"tutorId"`
	WeekStart string        `json:"weekStart"`
	PatternID *int64        `json:"patternId,omitempty"`
	Available int           `json:"available"`
	Rows      []pattern.Row `json:"rows"`
	Selected  []domain.Slot `json:"selected"`
}

// OverlayResponse is the classification grid of a learner for a week.
type OverlayResponse struct {
	LearnerID int64                 `json:"learnerId"`
	WeekStart string                `json:"weekStart"`
	Counts    map[overlay.Class]int `json:"counts"`
	Rows      []overlayRow          `json:"rows"`
}

type overlayRow struct {
	SlotIndex int                               `json:"slotIndex"`
	Label     string                            `json:"label"`
	Cells     [domain.DaysPerWeek]overlay.Class `json:"cells"`
}

func (s *HTTPServer) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id := draft.NewSessionID()
	s.registry.GetOrCreate(id)
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}

func (s *HTTPServer) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s.registry.Delete(id)
	if s.inbox != nil {
		s.inbox.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAvailability returns the tutor's availability grid for a week.
// GET /api/v1/tutors/{tutorID}/availability?week=YYYY-MM-DD
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	tutorID, ok := pathID(w, r, "tutorID")
	if !ok {
		return
	}
	week, ok := weekParam(w, r.URL.Query().Get("week"))
	if !ok {
		return
	}

	wa, err := s.resolver.ForWeek(r.Context(), tutorID, week)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := AvailabilityResponse{
		TutorID:   tutorID,
		WeekStart: slots.WeekKey(wa.WeekStart),
		Available: wa.Grid.Count(),
		Rows:      wa.Grid.Rows(),
		Selected:  []domain.Slot{},
	}
	if wa.Pattern != nil {
		id := wa.Pattern.ID
		resp.PatternID = &id
		resp.Selected = wa.Pattern.Slots
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePatternEdit replaces the pattern effective from the given week.
// PUT /api/v1/patterns
func (s *HTTPServer) handlePatternEdit(w http.ResponseWriter, r *http.Request) {
	var req PatternEditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	week, ok := weekParam(w, req.Week)
	if !ok {
		return
	}

	p, err := s.editor.ApplyPatternEdit(r.Context(), week, req.Slots)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DELETE /api/v1/patterns/{patternID}
func (s *HTTPServer) handlePatternDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patternID")
	if !ok {
		return
	}
	if err := s.editor.DeletePattern(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOverlay classifies the learner's requested slots against an offer.
// GET /api/v1/learners/{learnerID}/overlay?week=YYYY-MM-DD[&tutorId=N][&offerId=N]
func (s *HTTPServer) handleOverlay(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := pathID(w, r, "learnerID")
	if !ok {
		return
	}
	q := r.URL.Query()
	week, ok := weekParam(w, q.Get("week"))
	if !ok {
		return
	}
	tutorID, ok := optionalID(w, q.Get("tutorId"), "tutorId")
	if !ok {
		return
	}
	offerID, ok := optionalID(w, q.Get("offerId"), "offerId")
	if !ok {
		return
	}

	requests, err := s.bookings.FetchLearnerBookingRequests(r.Context(), tutorID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	booked := overlay.BookedSlotsFor(requests, learnerID, week)

	var offered []domain.OfferedSlot
	if offerID != nil {
		o, err := s.bookings.FetchOfferDetail(r.Context(), *offerID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		offered = o.OfferedSlots
	}

	grid, err := overlay.Build(booked, offered, overlay.OnlyWeek(week))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	labels := slots.Labels()
	resp := OverlayResponse{
		LearnerID: learnerID,
		WeekStart: slots.WeekKey(week),
		Counts:    grid.Counts(),
		Rows:      make([]overlayRow, domain.SlotsPerDay),
	}
	for i := range resp.Rows {
		resp.Rows[i] = overlayRow{SlotIndex: i, Label: labels[i]}
		for d := 0; d < domain.DaysPerWeek; d++ {
			resp.Rows[i].Cells[d] = grid[d][i]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleDraftGet(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.registry.GetOrCreate(id).Snapshot())
}

// handleDraftLoad switches the session to a learner and week. The UI calls
// it on every week navigation.
// POST /api/v1/draft/load
func (s *HTTPServer) handleDraftLoad(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req DraftLoadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	week, ok := weekParam(w, req.Week)
	if !ok {
		return
	}

	snap, err := s.registry.GetOrCreate(id).LoadForWeek(r.Context(), req.LearnerID, week)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// POST /api/v1/draft/toggle
func (s *HTTPServer) handleDraftToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req domain.Slot
	if !decodeBody(w, r, &req) {
		return
	}

	snap, err := s.registry.GetOrCreate(id).Toggle(r.Context(), req.DayInWeek, req.SlotIndex)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DELETE /api/v1/draft
func (s *HTTPServer) handleDraftClear(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	m := s.registry.GetOrCreate(id)
	if err := m.Clear(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// handleSubmit sends the session's current draft as an offer.
// POST /api/v1/offers/submit
func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// A closed dialog does not abort the call; the submitter drops stale results.
	ctx := context.WithoutCancel(r.Context())
	res, err := s.submitter.Submit(ctx, s.registry.GetOrCreate(id), id, req.LessonID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/v1/offers/status
func (s *HTTPServer) handleSubmitStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	key, loaded := s.registry.GetOrCreate(id).Current()
	if !loaded {
		writeError(w, http.StatusBadRequest, "select a learner and week first")
		return
	}
	writeJSON(w, http.StatusOK, s.submitter.Status(key))
}

// handleHistory lists submissions recorded in [from, to). format=xlsx
// returns a workbook instead of JSON.
// GET /api/v1/offers/history?from=YYYY-MM-DD&to=YYYY-MM-DD[&format=xlsx]
func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "offer history is disabled")
		return
	}
	q := r.URL.Query()
	from, err := time.Parse(time.DateOnly, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse(time.DateOnly, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	attempts, err := s.history.List(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	switch q.Get("format") {
	case "", "json":
		if attempts == nil {
			attempts = []offer.Attempt{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+audit.ExportFilename(from, to)+`"`)
		if err := audit.WriteXLSX(w, attempts); err != nil {
			s.logger.Error().Err(err).Msg("offer history export failed")
		}
	default:
		writeError(w, http.StatusBadRequest, "format must be json or xlsx")
	}
}

// handleEvents drains the UI events queued for the session.
// GET /api/v1/events
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var evs []events.Event
	if s.inbox != nil {
		evs = s.inbox.Drain(id)
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing "+SessionHeader+" header")
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func optionalID(w http.ResponseWriter, raw, name string) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return nil, false
	}
	return &id, true
}

func weekParam(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		writeError(w, http.StatusBadRequest, "week is required")
		return time.Time{}, false
	}
	week, err := slots.ParseWeek(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.UserMessage(err))
		return time.Time{}, false
	}
	return week, true
}
