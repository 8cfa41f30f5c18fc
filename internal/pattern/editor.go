package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tutorslots/internal/domain"
	"tutorslots/internal/slots"
)

// Editor writes tutor pattern edits to the pattern API.
type Editor struct {
	writer Writer
	logger *zerolog.Logger
}

// NewEditor creates an editor.
func NewEditor(writer Writer, logger *zerolog.Logger) *Editor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Editor{writer: writer, logger: logger}
}

// ApplyPatternEdit replaces the whole slot set of the pattern applied from
// weekStart's Monday. It always sends the complete selection, never a diff.
func (e *Editor) ApplyPatternEdit(ctx context.Context, weekStart time.Time, selected []domain.Slot) (*domain.WeeklyPattern, error) {
	clean, err := slots.Dedup(selected)
	if err != nil {
		return nil, err
	}

	monday := slots.WeekStart(weekStart)
	p, err := e.writer.WriteWeeklyPattern(ctx, domain.PatternWrite{AppliedFrom: monday, Slots: clean})
	if err != nil {
		return nil, fmt.Errorf("write pattern: %w", err)
	}

	e.logger.Info().
		Str("week", monday.Format(time.DateOnly)).
		Int("slots", len(clean)).
		Int64("pattern_id", p.ID).
		Msg("weekly pattern written")
	return p, nil
}

// DeletePattern removes a pattern by ID.
func (e *Editor) DeletePattern(ctx context.Context, patternID int64) error {
	if patternID <= 0 {
		return domain.Validation("invalid pattern id %d", patternID)
	}
	if err := e.writer.DeleteWeeklyPattern(ctx, patternID); err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	e.logger.Info().Int64("pattern_id", patternID).Msg("weekly pattern deleted")
	return nil
}
