// Package api exposes the scheduling engine to the presentation layer as a
// JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"tutorslots/internal/domain"
	"tutorslots/internal/draft"
	"tutorslots/internal/events"
	"tutorslots/internal/offer"
	"tutorslots/internal/pattern"
)

// SessionHeader identifies the tutor's UI session.
const SessionHeader = "X-Session-ID"

// Bookings reads learner requests and offers from the booking service.
type Bookings interface {
	FetchLearnerBookingRequests(ctx context.Context, tutorID *int64) ([]domain.BookingRequest, error)
	FetchOfferDetail(ctx context.Context, offerID int64) (*domain.Offer, error)
}

// History lists recorded offer submissions.
type History interface {
	List(ctx context.Context, from, to time.Time) ([]offer.Attempt, error)
}

// Deps are the engine components served over HTTP.
type Deps struct {
	Resolver  *pattern.Resolver
	Editor    *pattern.Editor
	Bookings  Bookings
	Registry  *draft.Registry
	Submitter *offer.Submitter
	Inbox     *events.Inbox
	History   History // optional
	Logger    *zerolog.Logger
}

// HTTPServer serves the engine API.
type HTTPServer struct {
	server    *http.Server
	resolver  *pattern.Resolver
	editor    *pattern.Editor
	bookings  Bookings
	registry  *draft.Registry
	submitter *offer.Submitter
	inbox     *events.Inbox
	history   History
	logger    *zerolog.Logger
}

// NewHTTPServer wires routes on addr.
func NewHTTPServer(addr string, d Deps) *HTTPServer {
	logger := d.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &HTTPServer{
		resolver:  d.Resolver,
		editor:    d.Editor,
		bookings:  d.Bookings,
		registry:  d.Registry,
		submitter: d.Submitter,
		inbox:     d.Inbox,
		history:   d.History,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", s.handleNewSession)
	mux.HandleFunc("DELETE /api/v1/sessions", s.handleEndSession)

	mux.HandleFunc("GET /api/v1/tutors/{tutorID}/availability", s.handleAvailability)
	mux.HandleFunc("PUT /api/v1/patterns", s.handlePatternEdit)
	mux.HandleFunc("DELETE /api/v1/patterns/{patternID}", s.handlePatternDelete)
	mux.HandleFunc("GET /api/v1/learners/{learnerID}/overlay", s.handleOverlay)

	mux.HandleFunc("GET /api/v1/draft", s.handleDraftGet)
	mux.HandleFunc("POST /api/v1/draft/load", s.handleDraftLoad)
	mux.HandleFunc("POST /api/v1/draft/toggle", s.handleDraftToggle)
	mux.HandleFunc("DELETE /api/v1/draft", s.handleDraftClear)

	mux.HandleFunc("POST /api/v1/offers/submit", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/offers/status", s.handleSubmitStatus)
	mux.HandleFunc("GET /api/v1/offers/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps an engine error onto an HTTP status, keeping the
// user-facing message verbatim.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, offer.ErrRequestInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, domain.UserMessage(err))
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, domain.UserMessage(err))
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, domain.UserMessage(err))
	case errors.Is(err, domain.ErrTransport):
		writeError(w, http.StatusBadGateway, domain.UserMessage(err))
	default:
		s.logger.Error().Err(err).Msg("unhandled api error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
