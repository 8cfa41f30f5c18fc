// Package overlay classifies every cell of a week grid against the learner's
// requested slots and the tutor's offered slots.
package overlay

import (
	"time"

	"tutorslots/internal/domain"
	"tutorslots/internal/slots"
)

// Class is the overlay classification of one cell.
type Class string

const (
	ClassNone    Class = "none"
	ClassBooked  Class = "booked"
	ClassOffered Class = "offered"
	ClassBoth    Class = "both"
)

// classify is the whole decision table. It only looks at membership.
func classify(booked, offered bool) Class {
	switch {
	case booked && offered:
		return ClassBoth
	case booked:
		return ClassBooked
	case offered:
		return ClassOffered
	default:
		return ClassNone
	}
}

// Grid is the classification of a week, indexed by [dayInWeek-1][slotIndex].
type Grid [domain.DaysPerWeek][domain.SlotsPerDay]Class

// Option tunes how offered slots are read.
type Option func(*options)

type options struct {
	weekStart *time.Time
}

// OnlyWeek ignores offered slots whose datetime falls outside the week
// starting at weekStart.
func OnlyWeek(weekStart time.Time) Option {
	return func(o *options) {
		monday := slots.WeekStart(weekStart)
		o.weekStart = &monday
	}
}

// Calculator holds the two membership sets.
type Calculator struct {
	booked  map[domain.Slot]struct{}
	offered map[domain.Slot]struct{}
}

// New validates the inputs and builds both membership sets. The day of an
// offered slot is derived from its datetime; its index is taken as given.
func New(booked []domain.Slot, offered []domain.OfferedSlot, opts ...Option) (*Calculator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Calculator{
		booked:  make(map[domain.Slot]struct{}, len(booked)),
		offered: make(map[domain.Slot]struct{}, len(offered)),
	}
	for _, s := range booked {
		if err := slots.ValidateSlot(s); err != nil {
			return nil, err
		}
		c.booked[s] = struct{}{}
	}
	for _, off := range offered {
		if err := slots.ValidateIndex(off.SlotIndex); err != nil {
			return nil, err
		}
		if o.weekStart != nil && !inWeek(off.SlotDateTime, *o.weekStart) {
			continue
		}
		cell := slots.SlotOfDateTime(off.SlotDateTime)
		cell.SlotIndex = off.SlotIndex
		c.offered[cell] = struct{}{}
	}
	return c, nil
}

func inWeek(t, monday time.Time) bool {
	t = t.UTC()
	return !t.Before(monday) && t.Before(monday.AddDate(0, 0, domain.DaysPerWeek))
}

// Classify returns the class of one cell.
func (c *Calculator) Classify(day, slotIndex int) (Class, error) {
	s := domain.Slot{DayInWeek: day, SlotIndex: slotIndex}
	if err := slots.ValidateSlot(s); err != nil {
		return "", err
	}
	_, b := c.booked[s]
	_, o := c.offered[s]
	return classify(b, o), nil
}

// Grid classifies every cell.
func (c *Calculator) Grid() Grid {
	var g Grid
	for d := 0; d < domain.DaysPerWeek; d++ {
		for i := 0; i < domain.SlotsPerDay; i++ {
			s := domain.Slot{DayInWeek: d + 1, SlotIndex: i}
			_, b := c.booked[s]
			_, o := c.offered[s]
			g[d][i] = classify(b, o)
		}
	}
	return g
}

// Build is New followed by Grid.
func Build(booked []domain.Slot, offered []domain.OfferedSlot, opts ...Option) (Grid, error) {
	c, err := New(booked, offered, opts...)
	if err != nil {
		return Grid{}, err
	}
	return c.Grid(), nil
}

// Counts tallies cells per class, excluding ClassNone.
func (g *Grid) Counts() map[Class]int {
	out := make(map[Class]int, 3)
	for d := range g {
		for s := range g[d] {
			if g[d][s] != ClassNone {
				out[g[d][s]]++
			}
		}
	}
	return out
}

// BookedSlotsFor collects the slots a learner requested for the week that
// contains weekStart, across all of their booking requests.
func BookedSlotsFor(requests []domain.BookingRequest, learnerID int64, weekStart time.Time) []domain.Slot {
	monday := slots.WeekStart(weekStart)
	seen := make(map[domain.Slot]struct{})
	var out []domain.Slot
	for _, r := range requests {
		if r.LearnerID != learnerID || !slots.WeekStart(r.ExpectedStartDate).Equal(monday) {
			continue
		}
		for _, s := range r.TimeSlots {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	slots.Sort(out)
	return out
}
