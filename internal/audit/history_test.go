package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tutorslots/internal/offer"
)

func newHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "audit", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistoryRecordAndList(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)
	require.NoError(t, h.Ping(ctx))

	base := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	attempts := []offer.Attempt{
		{At: base, Session: "s1", LearnerID: 5, Week: "2024-03-04", LessonID: 3, Outcome: "created", OfferID: 12, Slots: 2},
		{At: base.Add(time.Hour), Session: "s1", LearnerID: 5, Week: "2024-03-04", LessonID: 3, Outcome: "failed", Slots: 2, Message: "lesson is full", Stale: true},
		{At: base.AddDate(0, 1, 0), Session: "s2", LearnerID: 6, Week: "2024-04-01", LessonID: 4, Outcome: "invalid", Message: "select at least one slot"},
	}
	for _, a := range attempts {
		require.NoError(t, h.Record(ctx, a))
	}

	got, err := h.List(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "created", got[0].Outcome)
	assert.Equal(t, int64(12), got[0].OfferID)
	assert.True(t, got[0].At.Equal(base))
	assert.Equal(t, "lesson is full", got[1].Message)
	assert.True(t, got[1].Stale)
}

func TestHistoryPurge(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)

	require.NoError(t, h.Record(ctx, offer.Attempt{At: time.Now().Add(-40 * 24 * time.Hour), Outcome: "created"}))
	require.NoError(t, h.Record(ctx, offer.Attempt{Outcome: "updated"}))

	n, err := h.PurgeOlderThan(ctx, 31*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := h.List(ctx, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "updated", got[0].Outcome)
}

func TestWriteXLSX(t *testing.T) {
	at := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := WriteXLSX(&buf, []offer.Attempt{
		{At: at, Session: "s1", LearnerID: 5, Week: "2024-03-04", LessonID: 3, Outcome: "created", OfferID: 12, Slots: 2},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportColumns, rows[0])
	assert.Equal(t, "2024-03-05 09:30:00", rows[1][0])
	assert.Equal(t, "5", rows[1][2])
	assert.Equal(t, "created", rows[1][5])
	assert.Equal(t, "12", rows[1][6])
}

func TestExportFilename(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "offers_2024-03-01_2024-04-01.xlsx", ExportFilename(from, from.AddDate(0, 1, 0)))
}
