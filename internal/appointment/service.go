package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
)

var (
	// ErrSlotTaken covers both the advisory pre-check hit and the storage
	// exclusion-constraint violation (the race lost to a concurrent writer).
	ErrSlotTaken        = errors.New("horário já ocupado para este profissional")
	ErrPatientSlotTaken = errors.New("paciente já possui consulta nesse horário")
	// ErrUnavailablePeriod is a hit against a professional-declared block.
	ErrUnavailablePeriod = errors.New("profissional indisponível no período")
	ErrInvalidTimeRange  = errors.New("endsAt deve ser maior que startsAt")
	ErrInvalidTransition = errors.New("transição de status inválida")
	ErrBusinessHours     = errors.New("horário fora da agenda da profissional")
)

// MessageSender delivers WhatsApp texts under the configured delivery policy.
// delivered=false with a nil error means the failure was downgraded to a
// warning (non-production behavior).
type MessageSender interface {
	Deliver(ctx context.Context, phoneNumber, text string, creds messaging.Credentials) (delivered bool, err error)
}

type Service struct {
	repo      Repository
	sender    MessageSender
	logger    *zap.Logger
	defaultTZ string
}

func NewService(repo Repository, sender MessageSender, logger *zap.Logger, defaultTimezone string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		sender:    sender,
		logger:    logger,
		defaultTZ: defaultTimezone,
	}
}

type CreateParams struct {
	ProfessionalID uuid.UUID
	PatientID      uuid.UUID
	StartsAt       time.Time
	EndsAt         time.Time
	Notes          *string
}

// Create books an AGENDADO appointment. The availability pre-check is
// advisory; the exclusion constraint decides races.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	if !p.EndsAt.After(p.StartsAt) {
		return nil, ErrInvalidTimeRange
	}

	if err := s.CheckAvailability(ctx, p.ProfessionalID, p.StartsAt, p.EndsAt, nil); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatient(ctx, p.ProfessionalID, p.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	appt, err := s.repo.CreateAppointment(ctx, CreateAppointmentParams{
		ProfessionalID: p.ProfessionalID,
		PatientID:      p.PatientID,
		StartsAt:       p.StartsAt,
		EndsAt:         p.EndsAt,
		Notes:          p.Notes,
	})
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.logger.Info("booking race lost to concurrent writer",
				zap.String("professional_id", p.ProfessionalID.String()),
				zap.Time("starts_at", p.StartsAt))
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	return appt, nil
}

type RescheduleResult struct {
	OldAppointmentID uuid.UUID
	NewAppointment   *Appointment
}

// Reschedule creates a replacement row linked via rescheduled_from_id and
// flips the current appointment to REMARCADO in the same transaction.
func (s *Service) Reschedule(ctx context.Context, professionalID, appointmentID uuid.UUID, startsAt, endsAt time.Time) (*RescheduleResult, error) {
	if !endsAt.After(startsAt) {
		return nil, ErrInvalidTimeRange
	}

	current, err := s.repo.GetAppointment(ctx, professionalID, appointmentID)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCanceled {
		return nil, fmt.Errorf("%w: não é possível remarcar um agendamento cancelado", ErrInvalidTransition)
	}

	if err := s.CheckAvailability(ctx, professionalID, startsAt, endsAt, &current.ID); err != nil {
		return nil, err
	}

	created, err := s.repo.RescheduleAppointment(ctx, current, startsAt, endsAt)
	if err != nil {
		return nil, err
	}

	return &RescheduleResult{OldAppointmentID: current.ID, NewAppointment: created}, nil
}

// Cancel is idempotent: canceling a CANCELADO appointment returns it as-is.
// A structured audit record is merged into the notes field.
func (s *Service) Cancel(ctx context.Context, professionalID, appointmentID uuid.UUID, reason *string) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, professionalID, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCanceled {
		return appt, nil
	}

	notes := buildCancellationNotes(appt.Notes, reason, time.Now())
	canceled, err := s.repo.CancelAppointment(ctx, appt.ID, notes)
	if errors.Is(err, ErrInvalidTransition) {
		// A concurrent writer moved the row to a terminal state between our
		// read and the update. A concurrent cancel keeps this call idempotent.
		appt, getErr := s.repo.GetAppointment(ctx, professionalID, appointmentID)
		if getErr != nil {
			return nil, getErr
		}
		if appt.Status == StatusCanceled {
			return appt, nil
		}
		return nil, err
	}
	return canceled, err
}

func buildCancellationNotes(previous *string, reason *string, canceledAt time.Time) string {
	record := map[string]any{
		"cancellation": CancellationAudit{
			CanceledAt: canceledAt.UTC(),
			Reason:     trimmedOrNil(reason),
		},
	}
	if previous != nil && *previous != "" {
		record["previousNotes"] = *previous
	}

	data, err := json.Marshal(record)
	if err != nil {
		// Marshaling a map of strings cannot realistically fail; keep the
		// cancel going with a bare marker if it ever does.
		return "CANCELADO"
	}
	return string(data)
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// ConfirmPresence flips an appointment to CONFIRMADO. Canceled appointments
// cannot be confirmed.
func (s *Service) ConfirmPresence(ctx context.Context, professionalID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, professionalID, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCanceled {
		return nil, fmt.Errorf("%w: não é possível confirmar presença em agendamento cancelado", ErrInvalidTransition)
	}

	return s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed)
}

func (s *Service) Get(ctx context.Context, professionalID, appointmentID uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, professionalID, appointmentID)
}

func (s *Service) List(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]Appointment, error) {
	return s.repo.ListAppointments(ctx, professionalID, from, to)
}

func (s *Service) location(p *Professional, settings *Settings) *time.Location {
	name := settings.EffectiveTimezone(p, s.defaultTZ)
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.logger.Warn("invalid professional timezone, falling back to UTC", zap.String("timezone", name))
		return time.UTC
	}
	return loc
}
