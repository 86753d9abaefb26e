// Package slotgen derives bookable slots from a shift definition. It is a
// pure function of its input: the same shift always yields the same ordered
// slots with the same identities, which is what makes re-generation after a
// shift edit idempotent.
package slotgen

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
)

// ErrInvalidShift rejects malformed shift input before it reaches the store.
var ErrInvalidShift = errors.New("invalid shift definition")

type window struct {
	start int
	end   int
}

// Generate carves consultation intervals forward from the shift's start time,
// separated by the waiting gap, stopping once the next interval would end
// past the shift's end. Intervals overlapping a break window, even partially,
// are dropped rather than shifted or truncated.
func Generate(shift *model.ShiftDefinition) ([]model.Slot, error) {
	start, end, breaks, err := validate(shift)
	if err != nil {
		return nil, err
	}

	duration := shift.ConsultationDurationMinutes
	waiting := shift.WaitingTimeMinutes
	now := time.Now()

	var slots []model.Slot
	for cursor := start; cursor+duration <= end; cursor += duration + waiting {
		w := window{start: cursor, end: cursor + duration}
		if overlapsAny(w, breaks) {
			continue
		}

		startClock := model.MinutesClock(w.start)
		endClock := model.MinutesClock(w.end)
		slots = append(slots, model.Slot{
			ID:         model.SlotID(shift.ProviderID, shift.Date, startClock, endClock),
			ProviderID: shift.ProviderID,
			Date:       shift.Date,
			StartTime:  startClock,
			EndTime:    endClock,
			Status:     model.SlotStatusOpen,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	return slots, nil
}

func validate(shift *model.ShiftDefinition) (start, end int, breaks []window, err error) {
	if shift == nil {
		return 0, 0, nil, fmt.Errorf("%w: nil shift", ErrInvalidShift)
	}
	if shift.ProviderID == uuid.Nil {
		return 0, 0, nil, fmt.Errorf("%w: provider id is required", ErrInvalidShift)
	}
	if _, err := model.ParseDate(shift.Date); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrInvalidShift, err)
	}
	if shift.ConsultationDurationMinutes <= 0 {
		return 0, 0, nil, fmt.Errorf("%w: consultation duration must be positive", ErrInvalidShift)
	}
	if shift.WaitingTimeMinutes < 0 {
		return 0, 0, nil, fmt.Errorf("%w: waiting time cannot be negative", ErrInvalidShift)
	}

	start, err = clock(shift.StartTime)
	if err != nil {
		return 0, 0, nil, err
	}
	end, err = clock(shift.EndTime)
	if err != nil {
		return 0, 0, nil, err
	}
	// A shift ending before it starts would imply crossing midnight; that is
	// rejected as invalid input, never wrapped.
	if end <= start {
		return 0, 0, nil, fmt.Errorf("%w: end time %s must be after start time %s", ErrInvalidShift, shift.EndTime, shift.StartTime)
	}

	for _, b := range shift.Breaks {
		bs, err := clock(b.Start)
		if err != nil {
			return 0, 0, nil, err
		}
		be, err := clock(b.End)
		if err != nil {
			return 0, 0, nil, err
		}
		if be <= bs {
			return 0, 0, nil, fmt.Errorf("%w: break end %s must be after break start %s", ErrInvalidShift, b.End, b.Start)
		}
		if bs < start || be > end {
			return 0, 0, nil, fmt.Errorf("%w: break %s-%s lies outside shift %s-%s", ErrInvalidShift, b.Start, b.End, shift.StartTime, shift.EndTime)
		}
		breaks = append(breaks, window{start: bs, end: be})
	}

	return start, end, breaks, nil
}

func clock(value string) (int, error) {
	minutes, err := model.ClockMinutes(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidShift, err)
	}
	return minutes, nil
}

func overlapsAny(w window, breaks []window) bool {
	for _, b := range breaks {
		if w.start < b.end && b.start < w.end {
			return true
		}
	}
	return false
}
