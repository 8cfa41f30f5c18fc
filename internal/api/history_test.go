package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tutorslots/internal/audit"
	"tutorslots/internal/draft"
	"tutorslots/internal/offer"
	"tutorslots/internal/pattern"
)

func TestOfferHistory(t *testing.T) {
	history, err := audit.NewHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	booking := newFakeBooking()
	srv := NewHTTPServer(":0", Deps{
		Resolver:  pattern.NewResolver(booking, nil),
		Editor:    pattern.NewEditor(booking, nil),
		Bookings:  booking,
		Registry:  draft.NewRegistry(draft.NewMemoryStore(), time.Minute, nil),
		Submitter: offer.NewSubmitter(booking, nil, nil, offer.WithRecorder(history)),
		History:   history,
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	ts := &testServer{Server: hs, booking: booking}

	sid := newSession(t, ts)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/draft/load", sid,
		DraftLoadRequest{LearnerID: 5, Week: "2024-03-04"}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/draft/toggle", sid,
		map[string]int{"dayInWeek": 2, "slotIndex": 10}, nil))
	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/v1/offers/submit", sid, SubmitRequest{LessonID: 99}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/offers/submit", sid, SubmitRequest{LessonID: 3}, nil))

	today := time.Now().UTC().Format(time.DateOnly)
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format(time.DateOnly)
	query := "/api/v1/offers/history?from=" + today + "&to=" + tomorrow

	var list struct {
		Attempts []offer.Attempt `json:"attempts"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, query, "", nil, &list))
	require.Len(t, list.Attempts, 2)
	assert.Equal(t, "failed", list.Attempts[0].Outcome)
	assert.Equal(t, "lesson is full", list.Attempts[0].Message)
	assert.Equal(t, "created", list.Attempts[1].Outcome)
	assert.Equal(t, sid, list.Attempts[1].Session)

	resp, err := http.Get(hs.URL + query + "&format=xlsx")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "offers_"+today)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Offers")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	var e errorResponse
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/offers/history?from=2024-03-01", "", nil, &e))
	assert.Equal(t, "to must be YYYY-MM-DD", e.Error)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/offers/history?from=2024-03-01&to=2024-03-01", "", nil, &e))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, query+"&format=csv", "", nil, &e))
}

func TestOfferHistoryDisabled(t *testing.T) {
	ts := setupTestServer(t)
	var e errorResponse
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/offers/history?from=2024-03-01&to=2024-04-01", "", nil, &e))
	assert.Equal(t, "offer history is disabled", e.Error)
}
