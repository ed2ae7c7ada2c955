package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrBlockNotFound        = errors.New("availability block not found")
)

type CreateAppointmentParams struct {
	ProfessionalID    uuid.UUID
	PatientID         uuid.UUID
	StartsAt          time.Time
	EndsAt            time.Time
	Notes             *string
	RescheduledFromID *uuid.UUID
}

type UpsertPatientParams struct {
	ProfessionalID uuid.UUID
	Name           string
	PhoneNumber    string
	Email          *string
}

// Repository contains all DB interactions needed by the scheduling service and
// the webhook tenant-resolution path.
type Repository interface {
	GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error)
	GetProfessionalByInstanceName(ctx context.Context, instanceName string) (*Professional, error)
	// ListProfessionals returns at most limit rows; the webhook processor uses
	// limit=2 to detect the single-tenant fallback case.
	ListProfessionals(ctx context.Context, limit int) ([]Professional, error)
	GetSettings(ctx context.Context, professionalID uuid.UUID) (*Settings, error)

	GetPatient(ctx context.Context, professionalID, patientID uuid.UUID) (*Patient, error)
	GetPatientByPhone(ctx context.Context, professionalID uuid.UUID, phoneNumber string) (*Patient, error)
	// FindPatientOwnerByPhone searches across tenants, newest patient first.
	FindPatientOwnerByPhone(ctx context.Context, phoneNumber string) (*Patient, error)
	UpsertPatient(ctx context.Context, p UpsertPatientParams) (*Patient, error)

	GetAppointment(ctx context.Context, professionalID, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]Appointment, error)
	ListActiveAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Advisory overlap pre-checks. The exclusion constraint remains the
	// authoritative guard; these exist for friendly errors and fewer wasted
	// round-trips.
	FindOverlappingAppointment(ctx context.Context, professionalID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) (*Appointment, error)
	FindOverlappingPatientAppointment(ctx context.Context, professionalID, patientID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) (*Appointment, error)
	FindOverlappingBlock(ctx context.Context, professionalID uuid.UUID, startsAt, endsAt time.Time) (*AvailabilityBlock, error)

	// CreateAppointment inserts an AGENDADO row. A lost race against a
	// concurrent writer surfaces as ErrSlotTaken (exclusion violation).
	CreateAppointment(ctx context.Context, p CreateAppointmentParams) (*Appointment, error)
	// RescheduleAppointment atomically inserts the replacement row and flips
	// the current one to REMARCADO.
	RescheduleAppointment(ctx context.Context, current *Appointment, startsAt, endsAt time.Time) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error)

	CreateAvailabilityBlocks(ctx context.Context, professionalID uuid.UUID, blocks []AvailabilityBlock) ([]AvailabilityBlock, error)
	ListAvailabilityBlocks(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]AvailabilityBlock, error)
	ListBlocksInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]AvailabilityBlock, error)
	DeleteAvailabilityBlock(ctx context.Context, professionalID, blockID uuid.UUID) error
}
