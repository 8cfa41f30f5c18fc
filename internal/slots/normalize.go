// Package slots converts between calendar weekdays, domain day numbers, slot
// indexes and absolute UTC datetimes. It is the only place that knows both
// day numbering conventions.
package slots

import (
	"fmt"
	"sort"
	"time"

	"tutorslots/internal/domain"
)

// ToDomainDay maps a native weekday (Sunday=0 .. Saturday=6, as time.Weekday)
// to the domain numbering (Sunday=1 .. Saturday=7).
func ToDomainDay(native int) (int, error) {
	if native < 0 || native > 6 {
		return 0, domain.Validation("native weekday %d out of range 0..6", native)
	}
	return native + 1, nil
}

// ToNativeDay is the inverse of ToDomainDay.
func ToNativeDay(day int) (int, error) {
	if err := ValidateDay(day); err != nil {
		return 0, err
	}
	return day - 1, nil
}

// DayOfDate returns the domain day of t in UTC.
func DayOfDate(t time.Time) int {
	// time.Weekday is always 0..6, so the conversion cannot fail.
	day, _ := ToDomainDay(int(t.UTC().Weekday()))
	return day
}

// ValidateDay checks a domain day number.
func ValidateDay(day int) error {
	if day < domain.Sunday || day > domain.Saturday {
		return domain.Validation("day %d out of range 1..7", day)
	}
	return nil
}

// ValidateIndex checks a slot index.
func ValidateIndex(slotIndex int) error {
	if slotIndex < 0 || slotIndex >= domain.SlotsPerDay {
		return domain.Validation("slot index %d out of range 0..%d", slotIndex, domain.SlotsPerDay-1)
	}
	return nil
}

// ValidateSlot checks both coordinates of s.
func ValidateSlot(s domain.Slot) error {
	if err := ValidateDay(s.DayInWeek); err != nil {
		return err
	}
	return ValidateIndex(s.SlotIndex)
}

// mondayOffset converts a valid domain day into days after Monday:
// Monday=2 -> 0 .. Saturday=7 -> 5, Sunday=1 -> 6.
func mondayOffset(day int) int {
	native, _ := ToNativeDay(day)
	return nativeMondayOffset(native)
}

func nativeMondayOffset(native int) int {
	return (native + 6) % 7
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -nativeMondayOffset(int(t.Weekday())))
}

// WeekKey is the ISO date of the week's Monday, used in storage keys and URLs.
func WeekKey(t time.Time) string {
	return WeekStart(t).Format(time.DateOnly)
}

// ParseWeek parses a YYYY-MM-DD date and anchors it to its Monday.
func ParseWeek(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, domain.Validation("invalid week %q; expected YYYY-MM-DD", s)
	}
	return WeekStart(d), nil
}

// SlotToDateTime resolves a (day, slot) pair inside the week that starts on
// weekStartMonday. The week start is normalized to Monday 00:00 UTC first.
func SlotToDateTime(weekStartMonday time.Time, day, slotIndex int) (time.Time, error) {
	if err := ValidateDay(day); err != nil {
		return time.Time{}, err
	}
	if err := ValidateIndex(slotIndex); err != nil {
		return time.Time{}, err
	}
	base := WeekStart(weekStartMonday).AddDate(0, 0, mondayOffset(day))
	return base.Add(time.Duration(slotIndex) * domain.SlotDuration), nil
}

// SlotOfDateTime returns the slot containing t (UTC).
func SlotOfDateTime(t time.Time) domain.Slot {
	t = t.UTC()
	return domain.Slot{
		DayInWeek: DayOfDate(t),
		SlotIndex: (t.Hour()*60 + t.Minute()) / 30,
	}
}

// TimeLabel formats a slot as "HH:MM - HH:MM". Slot 47 ends at "00:00".
func TimeLabel(slotIndex int) (string, error) {
	if err := ValidateIndex(slotIndex); err != nil {
		return "", err
	}
	start := slotIndex * 30
	end := (start + 30) % (24 * 60)
	return fmt.Sprintf("%02d:%02d - %02d:%02d", start/60, start%60, end/60, end%60), nil
}

// Labels returns the 48 row labels of a day.
func Labels() []string {
	labels := make([]string, domain.SlotsPerDay)
	for i := range labels {
		labels[i], _ = TimeLabel(i)
	}
	return labels
}

// Sort orders slots by day then index, in place.
func Sort(s []domain.Slot) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].DayInWeek != s[j].DayInWeek {
			return s[i].DayInWeek < s[j].DayInWeek
		}
		return s[i].SlotIndex < s[j].SlotIndex
	})
}

// Dedup validates, removes duplicates and sorts. The input is not modified.
func Dedup(in []domain.Slot) ([]domain.Slot, error) {
	seen := make(map[domain.Slot]struct{}, len(in))
	out := make([]domain.Slot, 0, len(in))
	for _, s := range in {
		if err := ValidateSlot(s); err != nil {
			return nil, err
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	Sort(out)
	return out, nil
}
