package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
)

type ManualAction string

const (
	ManualBook       ManualAction = "BOOK"
	ManualReschedule ManualAction = "RESCHEDULE"
	ManualCancel     ManualAction = "CANCEL"
)

var (
	ErrInvalidManualAction = errors.New("ação manual inválida")
	ErrInvalidPatientPhone = errors.New("telefone do paciente inválido")
)

type ManualActionParams struct {
	ProfessionalID uuid.UUID
	Action         ManualAction

	// BOOK
	PatientName  string
	PatientPhone string
	PatientEmail *string
	Notes        *string

	// BOOK and RESCHEDULE
	StartsAt time.Time
	EndsAt   time.Time

	// RESCHEDULE and CANCEL
	AppointmentID uuid.UUID
	Reason        *string
}

// ManualActionResult carries the affected appointment plus a delivery warning
// when the patient notification could not go out but the booking itself stood.
type ManualActionResult struct {
	Appointment *Appointment `json:"appointment"`
	Warning     *string      `json:"warning,omitempty"`
}

// ExecuteManualAction runs a secretary-style operation on behalf of the
// professional: book, reschedule or cancel, always notifying the patient.
func (s *Service) ExecuteManualAction(ctx context.Context, p ManualActionParams) (*ManualActionResult, error) {
	professional, err := s.repo.GetProfessionalByID(ctx, p.ProfessionalID)
	if err != nil {
		return nil, err
	}
	settings, err := s.repo.GetSettings(ctx, p.ProfessionalID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loc := s.location(professional, settings)

	switch p.Action {
	case ManualBook:
		return s.manualBook(ctx, professional, loc, p)
	case ManualReschedule:
		return s.manualReschedule(ctx, professional, loc, p)
	case ManualCancel:
		return s.manualCancel(ctx, professional, p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidManualAction, p.Action)
	}
}

func (s *Service) manualBook(ctx context.Context, professional *Professional, loc *time.Location, p ManualActionParams) (*ManualActionResult, error) {
	phone := digitsOnly(p.PatientPhone)
	if len(phone) < 10 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPatientPhone, p.PatientPhone)
	}
	name := strings.TrimSpace(p.PatientName)
	if name == "" {
		name = "Paciente"
	}

	if err := ValidateManualWindow(p.StartsAt, p.EndsAt, loc); err != nil {
		return nil, err
	}

	patient, err := s.repo.UpsertPatient(ctx, UpsertPatientParams{
		ProfessionalID: professional.ID,
		Name:           name,
		PhoneNumber:    phone,
		Email:          p.PatientEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert patient: %w", err)
	}

	if err := s.CheckAvailability(ctx, professional.ID, p.StartsAt, p.EndsAt, nil); err != nil {
		return nil, err
	}
	if err := s.checkPatientAvailability(ctx, professional.ID, patient.ID, p.StartsAt, p.EndsAt, nil); err != nil {
		return nil, err
	}

	appt, err := s.repo.CreateAppointment(ctx, CreateAppointmentParams{
		ProfessionalID: professional.ID,
		PatientID:      patient.ID,
		StartsAt:       p.StartsAt,
		EndsAt:         p.EndsAt,
		Notes:          p.Notes,
	})
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf(
		"Olá, %s! Sua consulta com %s foi marcada para %s. Qualquer dúvida, é só responder por aqui.",
		patient.Name, professional.Name, formatSlot(appt.StartsAt, loc))
	warning := s.notifyPatient(ctx, professional, patient.PhoneNumber, text, "marcada")

	return &ManualActionResult{Appointment: appt, Warning: warning}, nil
}

func (s *Service) manualReschedule(ctx context.Context, professional *Professional, loc *time.Location, p ManualActionParams) (*ManualActionResult, error) {
	current, err := s.repo.GetAppointment(ctx, professional.ID, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusScheduled && current.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: somente agendamentos ativos podem ser remarcados", ErrInvalidTransition)
	}

	if err := ValidateManualWindow(p.StartsAt, p.EndsAt, loc); err != nil {
		return nil, err
	}
	if err := s.CheckAvailability(ctx, professional.ID, p.StartsAt, p.EndsAt, &current.ID); err != nil {
		return nil, err
	}
	if err := s.checkPatientAvailability(ctx, professional.ID, current.PatientID, p.StartsAt, p.EndsAt, &current.ID); err != nil {
		return nil, err
	}

	created, err := s.repo.RescheduleAppointment(ctx, current, p.StartsAt, p.EndsAt)
	if err != nil {
		return nil, err
	}

	patient, err := s.repo.GetPatient(ctx, professional.ID, created.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient after reschedule: %w", err)
	}

	text := fmt.Sprintf(
		"Olá, %s! Sua consulta com %s foi remarcada para %s.",
		patient.Name, professional.Name, formatSlot(created.StartsAt, loc))
	warning := s.notifyPatient(ctx, professional, patient.PhoneNumber, text, "remarcada")

	return &ManualActionResult{Appointment: created, Warning: warning}, nil
}

func (s *Service) manualCancel(ctx context.Context, professional *Professional, p ManualActionParams) (*ManualActionResult, error) {
	appt, err := s.Cancel(ctx, professional.ID, p.AppointmentID, p.Reason)
	if err != nil {
		return nil, err
	}

	patient, err := s.repo.GetPatient(ctx, professional.ID, appt.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient after cancel: %w", err)
	}

	text := fmt.Sprintf(
		"Olá, %s! Sua consulta com %s foi cancelada. Para remarcar, é só responder por aqui.",
		patient.Name, professional.Name)
	warning := s.notifyPatient(ctx, professional, patient.PhoneNumber, text, "cancelada")

	return &ManualActionResult{Appointment: appt, Warning: warning}, nil
}

// notifyPatient sends the WhatsApp notice and converts a delivery failure into
// a user-facing warning. The domain operation already succeeded at this point,
// so under policy "fail" the error still does not roll it back.
func (s *Service) notifyPatient(ctx context.Context, professional *Professional, phoneNumber, text, verb string) *string {
	if s.sender == nil {
		return nil
	}

	delivered, err := s.sender.Deliver(ctx, phoneNumber, text, ProfessionalCredentials(professional))
	if err != nil || !delivered {
		if err != nil {
			s.logger.Warn("patient notification failed",
				zap.String("professional_id", professional.ID.String()),
				zap.Error(err))
		}
		w := fmt.Sprintf("Consulta %s, mas a mensagem de WhatsApp não pôde ser enviada ao paciente.", verb)
		return &w
	}
	return nil
}

// ProfessionalCredentials maps a professional's WhatsApp instance onto gateway
// credentials, leaving empty fields for the gateway defaults.
func ProfessionalCredentials(p *Professional) messaging.Credentials {
	var creds messaging.Credentials
	if p == nil {
		return creds
	}
	if p.InstanceName != nil {
		creds.InstanceName = *p.InstanceName
	}
	if p.InstanceAPIKey != nil {
		creds.APIKey = *p.InstanceAPIKey
	}
	return creds
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func formatSlot(startsAt time.Time, loc *time.Location) string {
	return startsAt.In(loc).Format("02/01/2006 às 15:04")
}
