package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled   Status = "AGENDADO"
	StatusConfirmed   Status = "CONFIRMADO"
	StatusCanceled    Status = "CANCELADO"
	StatusNoShow      Status = "FALTOU"
	StatusRescheduled Status = "REMARCADO"
)

// ActiveStatuses are the statuses that occupy a slot. Only these participate
// in overlap checks and in the storage exclusion constraint.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed}

type Professional struct {
	ID             uuid.UUID
	Name           string
	PhoneNumber    string
	Timezone       string
	InstanceName   *string
	InstanceAPIKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Settings carries the per-professional feature flags and reminder options.
// Absence of a row means every flag defaults to enabled.
type Settings struct {
	ProfessionalID       uuid.UUID
	Timezone             *string
	ReminderD1Enabled    bool
	Reminder2hEnabled    bool
	ConfirmationMessage  *string
	WebhookEnabled       bool
	PatientPortalEnabled bool
}

// DefaultSettings is what a professional without a settings row gets.
func DefaultSettings(professionalID uuid.UUID) *Settings {
	return &Settings{
		ProfessionalID:       professionalID,
		ReminderD1Enabled:    true,
		Reminder2hEnabled:    true,
		WebhookEnabled:       true,
		PatientPortalEnabled: true,
	}
}

// EffectiveTimezone resolves the zone used for reminder windows and the
// business-hours policy: settings override, then the professional, then the
// configured default.
func (s *Settings) EffectiveTimezone(p *Professional, fallback string) string {
	if s != nil && s.Timezone != nil && *s.Timezone != "" {
		return *s.Timezone
	}
	if p != nil && p.Timezone != "" {
		return p.Timezone
	}
	return fallback
}

type Patient struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	Name           string
	PhoneNumber    string
	Email          *string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Appointment occupies the half-open interval [StartsAt, EndsAt).
type Appointment struct {
	ID                uuid.UUID
	ProfessionalID    uuid.UUID
	PatientID         uuid.UUID
	StartsAt          time.Time
	EndsAt            time.Time
	Status            Status
	Notes             *string
	RescheduledFromID *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AvailabilityBlock is professional-declared unavailability (vacation etc.).
type AvailabilityBlock struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	StartsAt       time.Time
	EndsAt         time.Time
	Reason         *string
	CreatedAt      time.Time
}

// Overlaps reports whether two half-open intervals intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Slot is a bookable window offered to patients in the portal.
type Slot struct {
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
}

// CancellationAudit is the structured record appended to the notes field when
// an appointment is canceled.
type CancellationAudit struct {
	CanceledAt time.Time `json:"canceledAt"`
	Reason     *string   `json:"reason"`
}
