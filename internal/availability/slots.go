// Package availability turns a provider's recurring working-hours
// configuration into the bookable slots of a single day. It is pure: it
// never touches storage and is safe to call concurrently. The
// authoritative conflict check lives in the booking store; a slot
// reported available here can still lose a race at create time.
package availability

import (
	"time"

	"slotbook/internal/provider"
	"slotbook/internal/timegrid"
)

// Interval is a booked [Start,End) span on the requested day.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is one candidate of exactly the provider's slot duration.
// Unavailable candidates are still emitted so callers can render a full
// day grid.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// ComputeSlots walks each working-hour range of date's weekday in
// slot-duration steps and flags every candidate that collides with a
// break or, buffer included, with a booked interval. Bookings passed in
// must already exclude canceled ones.
//
// Malformed settings and weekdays without working hours both yield an
// empty slice: empty availability is a valid outcome, not an error.
func ComputeSlots(set provider.Settings, date time.Time, booked []Interval) []Slot {
	if set.Validate() != nil {
		return nil
	}

	ranges := set.WorkingHours[date.Weekday()]
	if len(ranges) == 0 {
		return nil
	}
	breaks := set.Breaks[date.Weekday()]
	duration := time.Duration(set.SlotDurationMinutes) * time.Minute
	buffer := time.Duration(set.BufferMinutes) * time.Minute

	var slots []Slot
	for _, r := range ranges {
		rangeEnd := timegrid.OnDay(date, r.EndMinute)
		for cursor := timegrid.OnDay(date, r.StartMinute); !cursor.Add(duration).After(rangeEnd); cursor = cursor.Add(duration) {
			end := cursor.Add(duration)
			slots = append(slots, Slot{
				Start:     cursor,
				End:       end,
				Available: !inBreak(date, cursor, end, breaks) && !collides(cursor, end.Add(buffer), booked),
			})
		}
	}
	return slots
}

func inBreak(date, start, end time.Time, breaks []provider.Range) bool {
	for _, b := range breaks {
		if timegrid.Overlaps(start, end, timegrid.OnDay(date, b.StartMinute), timegrid.OnDay(date, b.EndMinute)) {
			return true
		}
	}
	return false
}

func collides(start, endWithBuffer time.Time, booked []Interval) bool {
	for _, b := range booked {
		if timegrid.Overlaps(start, endWithBuffer, b.Start, b.End) {
			return true
		}
	}
	return false
}
