package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotStatusOpen     SlotStatus = "open"
	SlotStatusReserved SlotStatus = "reserved"
	SlotStatusBooked   SlotStatus = "booked"
)

// slotNamespace seeds the v5 UUID derivation for slot identities. It must
// never change: slot ids are deterministic from (provider, date, start, end)
// so re-generating a shift yields the same identities.
var slotNamespace = uuid.MustParse("8f0b1c5e-6a4d-4e2b-9f3a-1d7c2b8e5a90")

// Slot is one bookable consultation interval derived from a shift.
// Version increments on every state transition; claims must present the
// version they last observed.
type Slot struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	ProviderID    uuid.UUID  `json:"provider_id" db:"provider_id"`
	Date          string     `json:"date" db:"date"`
	StartTime     string     `json:"start_time" db:"start_time"`
	EndTime       string     `json:"end_time" db:"end_time"`
	Status        SlotStatus `json:"status" db:"status"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty" db:"reservation_id"`
	Version       int64      `json:"version" db:"version"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// SlotID derives the deterministic identity of a slot.
func SlotID(providerID uuid.UUID, date, startTime, endTime string) uuid.UUID {
	name := fmt.Sprintf("%s/%s/%s-%s", providerID, date, startTime, endTime)
	return uuid.NewSHA1(slotNamespace, []byte(name))
}

// SlotChannel is the broker channel carrying a provider's slot changes.
// A single channel per provider preserves store-commit order for viewers.
func SlotChannel(providerID uuid.UUID) string {
	return "schedule.slots." + providerID.String()
}

// SlotChange is the availability mutation fanned out to schedule viewers.
type SlotChange struct {
	ProviderID uuid.UUID  `json:"provider_id"`
	Date       string     `json:"date"`
	SlotID     uuid.UUID  `json:"slot_id"`
	Status     SlotStatus `json:"status"`
	Version    int64      `json:"version"`
	OccurredAt time.Time  `json:"occurred_at"`
}
