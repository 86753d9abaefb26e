package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DateLayout is the civil date format used for shift and slot keys.
	DateLayout = "2006-01-02"
	// ClockLayout is the civil time-of-day format (24h, provider-local).
	ClockLayout = "15:04"
)

// TimeRange is a break window inside a shift, in provider-local clock time.
type TimeRange struct {
	Start string `json:"start" db:"start_time"`
	End   string `json:"end" db:"end_time"`
}

// ShiftDefinition is a provider's declared working interval for one date.
// It is authored externally and treated as immutable once slots have been
// generated; re-ingesting a changed definition is the explicit invalidation
// path.
type ShiftDefinition struct {
	ProviderID                  uuid.UUID   `json:"provider_id" db:"provider_id"`
	Date                        string      `json:"date" db:"date"`
	StartTime                   string      `json:"start_time" db:"start_time"`
	EndTime                     string      `json:"end_time" db:"end_time"`
	ConsultationDurationMinutes int         `json:"consultation_duration_minutes" db:"consultation_duration_minutes"`
	WaitingTimeMinutes          int         `json:"waiting_time_minutes" db:"waiting_time_minutes"`
	Breaks                      []TimeRange `json:"breaks,omitempty"`
	CreatedAt                   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt                   time.Time   `json:"updated_at" db:"updated_at"`
}

type IngestShiftRequest struct {
	ProviderID                  string      `json:"provider_id" binding:"required,uuid"`
	Date                        string      `json:"date" binding:"required,civildate"`
	StartTime                   string      `json:"start_time" binding:"required,clock"`
	EndTime                     string      `json:"end_time" binding:"required,clock"`
	ConsultationDurationMinutes int         `json:"consultation_duration_minutes" binding:"required,gt=0"`
	WaitingTimeMinutes          int         `json:"waiting_time_minutes" binding:"gte=0"`
	Breaks                      []TimeRange `json:"breaks"`
}

// ClockMinutes parses an HH:MM clock value into minutes since midnight.
func ClockMinutes(clock string) (int, error) {
	t, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", clock, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MinutesClock renders minutes since midnight as HH:MM.
func MinutesClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate validates a civil date key.
func ParseDate(date string) (time.Time, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return d, nil
}
