package model

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusExpired   ReservationStatus = "expired"
)

// Terminal reports whether a reservation status admits no further transitions.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationStatusConfirmed ||
		s == ReservationStatusReleased ||
		s == ReservationStatusExpired
}

// Reservation is the transient claim on a slot pending the payment outcome.
// It is created pending and terminates into exactly one of confirmed,
// released or expired.
type Reservation struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	SlotID       uuid.UUID         `json:"slot_id" db:"slot_id"`
	UserID       uuid.UUID         `json:"user_id" db:"user_id"`
	PatientName  string            `json:"patient_name" db:"patient_name"`
	Status       ReservationStatus `json:"status" db:"status"`
	CancelReason *string           `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at" db:"expires_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

type CreateBookingRequest struct {
	SlotID      string `json:"slot_id" binding:"required,uuid"`
	UserID      string `json:"user_id" binding:"required,uuid"`
	PatientName string `json:"patient_name" binding:"required,max=200"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type PaymentOutcomeRequest struct {
	ReservationID string `json:"reservation_id" binding:"required,uuid"`
}
