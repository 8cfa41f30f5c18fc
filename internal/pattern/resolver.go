// Package pattern turns a tutor's recurring weekly patterns into a concrete
// availability grid for one week, and writes pattern edits back.
package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tutorslots/internal/domain"
	"tutorslots/internal/slots"
)

// Source fetches a tutor's patterns.
type Source interface {
	FetchWeeklyPatterns(ctx context.Context, tutorID int64) ([]domain.WeeklyPattern, error)
}

// Writer persists and deletes patterns.
type Writer interface {
	WriteWeeklyPattern(ctx context.Context, w domain.PatternWrite) (*domain.WeeklyPattern, error)
	DeleteWeeklyPattern(ctx context.Context, patternID int64) error
}

// Grid is a 7x48 availability grid indexed by [dayInWeek-1][slotIndex].
type Grid [domain.DaysPerWeek][domain.SlotsPerDay]bool

// At reports availability of a cell. Out-of-range coordinates are an error.
func (g *Grid) At(day, slotIndex int) (bool, error) {
	if err := slots.ValidateSlot(domain.Slot{DayInWeek: day, SlotIndex: slotIndex}); err != nil {
		return false, err
	}
	return g[day-1][slotIndex], nil
}

// Count returns the number of available cells.
func (g *Grid) Count() int {
	n := 0
	for d := range g {
		for s := range g[d] {
			if g[d][s] {
				n++
			}
		}
	}
	return n
}

// Row is one time row of the grid, ready for display.
type Row struct {
	SlotIndex int                      `json:"slotIndex"`
	Label     string                   `json:"label"`
	Days      [domain.DaysPerWeek]bool `json:"days"`
}

// Rows pairs every slot index with its time label.
func (g *Grid) Rows() []Row {
	labels := slots.Labels()
	rows := make([]Row, domain.SlotsPerDay)
	for s := range rows {
		rows[s] = Row{SlotIndex: s, Label: labels[s]}
		for d := 0; d < domain.DaysPerWeek; d++ {
			rows[s].Days[d] = g[d][s]
		}
	}
	return rows
}

// SelectPattern returns the pattern applicable to the week starting at
// weekStart: the latest AppliedFrom not after the week's Monday. Ties on
// AppliedFrom go to the highest ID. Returns nil when none applies.
func SelectPattern(patterns []domain.WeeklyPattern, weekStart time.Time) *domain.WeeklyPattern {
	monday := slots.WeekStart(weekStart)

	var best *domain.WeeklyPattern
	for i := range patterns {
		p := &patterns[i]
		from := dateOnly(p.AppliedFrom)
		if from.After(monday) {
			continue
		}
		if best == nil {
			best = p
			continue
		}
		bestFrom := dateOnly(best.AppliedFrom)
		if from.After(bestFrom) || (from.Equal(bestFrom) && p.ID > best.ID) {
			best = p
		}
	}
	return best
}

// BuildAvailabilityGrid marks every slot of p. A nil pattern yields an
// all-false grid.
func BuildAvailabilityGrid(p *domain.WeeklyPattern) (Grid, error) {
	var g Grid
	if p == nil {
		return g, nil
	}
	for _, s := range p.Slots {
		if err := slots.ValidateSlot(s); err != nil {
			return Grid{}, fmt.Errorf("pattern %d: %w", p.ID, err)
		}
		g[s.DayInWeek-1][s.SlotIndex] = true
	}
	return g, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekAvailability is the resolved availability for one tutor and week.
type WeekAvailability struct {
	TutorID   int64                 `json:"tutorId"`
	WeekStart time.Time             `json:"weekStart"`
	Pattern   *domain.WeeklyPattern `json:"pattern,omitempty"`
	Grid      Grid                  `json:"-"`
}

// Resolver loads patterns and resolves them for a week.
type Resolver struct {
	source Source
	logger *zerolog.Logger
}

// NewResolver creates a resolver backed by source.
func NewResolver(source Source, logger *zerolog.Logger) *Resolver {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Resolver{source: source, logger: logger}
}

// ForWeek fetches the tutor's patterns and builds the grid for weekStart.
// No applicable pattern is not an error: the grid is simply empty.
func (r *Resolver) ForWeek(ctx context.Context, tutorID int64, weekStart time.Time) (*WeekAvailability, error) {
	patterns, err := r.source.FetchWeeklyPatterns(ctx, tutorID)
	if err != nil {
		return nil, fmt.Errorf("fetch patterns: %w", err)
	}

	monday := slots.WeekStart(weekStart)
	p := SelectPattern(patterns, monday)
	grid, err := BuildAvailabilityGrid(p)
	if err != nil {
		return nil, err
	}

	ev := r.logger.Debug().Int64("tutor_id", tutorID).Str("week", monday.Format(time.DateOnly))
	if p != nil {
		ev = ev.Int64("pattern_id", p.ID).Int("slots", grid.Count())
	}
	ev.Msg("resolved weekly pattern")

	return &WeekAvailability{TutorID: tutorID, WeekStart: monday, Pattern: p, Grid: grid}, nil
}
