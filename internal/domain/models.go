// Package domain holds the scheduling types shared by every engine component.
package domain

import "time"

const (
	// DaysPerWeek is the number of day columns in a week grid.
	DaysPerWeek = 7
	// SlotsPerDay is 24 hours split into 30 minute buckets.
	SlotsPerDay = 48
	// SlotDuration is the length of one slot.
	SlotDuration = 30 * time.Minute
)

// Domain day numbering, Sunday first.
const (
	Sunday    = 1
	Monday    = 2
	Tuesday   = 3
	Wednesday = 4
	Thursday  = 5
	Friday    = 6
	Saturday  = 7
)

// Slot is a half-hour bucket inside a week.
type Slot struct {
	DayInWeek int `json:"dayInWeek"` // 1..7, Sunday=1
	SlotIndex int `json:"slotIndex"` // 0..47, from 00:00 UTC
}

// WeeklyPattern is a tutor's recurring availability, effective from AppliedFrom
// until a pattern with a later AppliedFrom supersedes it.
type WeeklyPattern struct {
	ID          int64     `json:"id"`
	TutorID     int64     `json:"tutorId"`
	AppliedFrom time.Time `json:"appliedFrom"`
	Slots       []Slot    `json:"slots"`
}

// BookingRequest is the set of slots a learner asked for in a given week.
type BookingRequest struct {
	TutorID           int64     `json:"tutorId"`
	LearnerID         int64     `json:"learnerId"`
	ExpectedStartDate time.Time `json:"expectedStartDate"`
	TimeSlots         []Slot    `json:"timeSlots"`
}

// OfferedSlot carries an absolute datetime instead of a day number.
type OfferedSlot struct {
	SlotDateTime time.Time `json:"slotDateTime"`
	SlotIndex    int       `json:"slotIndex"`
}

// Offer is a tutor's counter-proposal for a lesson.
type Offer struct {
	ID           int64         `json:"id"`
	LearnerID    int64         `json:"learnerId"`
	LessonID     int64         `json:"lessonId"`
	OfferedSlots []OfferedSlot `json:"offeredSlots"`
}

// PatternWrite is the full-replace payload for a weekly pattern.
type PatternWrite struct {
	AppliedFrom time.Time `json:"appliedFrom"`
	Slots       []Slot    `json:"slots"`
}

// OfferCreate is the payload for a new offer.
type OfferCreate struct {
	LearnerID    int64         `json:"learnerId"`
	LessonID     int64         `json:"lessonId"`
	OfferedSlots []OfferedSlot `json:"offeredSlots"`
}

// OfferUpdate replaces lesson and slots of an existing offer.
type OfferUpdate struct {
	LessonID     int64         `json:"lessonId"`
	OfferedSlots []OfferedSlot `json:"offeredSlots"`
}
