package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
)

var (
	ErrPortalDisabled  = errors.New("portal do paciente desabilitado para este profissional")
	ErrInvalidPhone    = errors.New("telefone inválido")
	ErrNotRequestOwner = errors.New("agendamento não pertence a este paciente")
)

// Scheduling is the slice of the appointment service the portal drives.
type Scheduling interface {
	Create(ctx context.Context, p appointment.CreateParams) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, professionalID, appointmentID uuid.UUID, startsAt, endsAt time.Time) (*appointment.RescheduleResult, error)
	Cancel(ctx context.Context, professionalID, appointmentID uuid.UUID, reason *string) (*appointment.Appointment, error)
	CheckAvailability(ctx context.Context, professionalID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) error
	AvailableSlots(ctx context.Context, professionalID uuid.UUID, year, month int, now time.Time) (*appointment.MonthAvailability, error)
}

// Directory is the repository slice the portal needs.
type Directory interface {
	GetProfessionalByID(ctx context.Context, id uuid.UUID) (*appointment.Professional, error)
	GetSettings(ctx context.Context, professionalID uuid.UUID) (*appointment.Settings, error)
	GetPatient(ctx context.Context, professionalID, patientID uuid.UUID) (*appointment.Patient, error)
	GetPatientByPhone(ctx context.Context, professionalID uuid.UUID, phoneNumber string) (*appointment.Patient, error)
	UpsertPatient(ctx context.Context, p appointment.UpsertPatientParams) (*appointment.Patient, error)
	GetAppointment(ctx context.Context, professionalID, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]appointment.Appointment, error)
}

type Sender interface {
	Deliver(ctx context.Context, phoneNumber, text string, creds messaging.Credentials) (delivered bool, err error)
}

type Service struct {
	directory  Directory
	scheduling Scheduling
	requests   Requests
	codes      Codes
	sender     Sender
	logger     *zap.Logger
	codeTTL    time.Duration
}

func NewService(directory Directory, scheduling Scheduling, requests Requests, codes Codes, sender Sender, logger *zap.Logger, codeTTL time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		directory:  directory,
		scheduling: scheduling,
		requests:   requests,
		codes:      codes,
		sender:     sender,
		logger:     logger,
		codeTTL:    codeTTL,
	}
}

// professionalWithPortal loads the tenant and rejects portal calls when the
// professional has the portal switched off.
func (s *Service) professionalWithPortal(ctx context.Context, professionalID uuid.UUID) (*appointment.Professional, error) {
	professional, err := s.directory.GetProfessionalByID(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	settings, err := s.directory.GetSettings(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.PatientPortalEnabled {
		return nil, ErrPortalDisabled
	}
	return professional, nil
}

// RequestCode issues a login code and sends it over WhatsApp. The phone does
// not need an existing patient record: first-time visitors verify before they
// book.
func (s *Service) RequestCode(ctx context.Context, professionalID uuid.UUID, phoneNumber string) error {
	professional, err := s.professionalWithPortal(ctx, professionalID)
	if err != nil {
		return err
	}

	phone := digitsOnly(phoneNumber)
	if len(phone) < 10 {
		return fmt.Errorf("%w: %q", ErrInvalidPhone, phoneNumber)
	}

	code, err := s.codes.Issue(ctx, professionalID, phone)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Seu código de acesso é %s. Ele expira em %d minutos.", code, int(s.codeTTL.Minutes()))
	delivered, err := s.sender.Deliver(ctx, phone, text, appointment.ProfessionalCredentials(professional))
	if err != nil {
		return fmt.Errorf("send access code: %w", err)
	}
	if !delivered {
		s.logger.Warn("access code not delivered", zap.String("professional_id", professionalID.String()))
	}
	return nil
}

// VerifiedPatient is the portal session payload after code verification.
type VerifiedPatient struct {
	Patient  *appointment.Patient      `json:"patient"`
	Upcoming []appointment.Appointment `json:"upcoming"`
}

// VerifyCode consumes the code and returns (creating if needed) the patient
// record plus their upcoming active appointments.
func (s *Service) VerifyCode(ctx context.Context, professionalID uuid.UUID, phoneNumber, code, name string) (*VerifiedPatient, error) {
	if _, err := s.professionalWithPortal(ctx, professionalID); err != nil {
		return nil, err
	}

	phone := digitsOnly(phoneNumber)
	if err := s.codes.Verify(ctx, professionalID, phone, code); err != nil {
		return nil, err
	}

	patient, err := s.directory.GetPatientByPhone(ctx, professionalID, phone)
	if errors.Is(err, appointment.ErrPatientNotFound) {
		if strings.TrimSpace(name) == "" {
			name = "Paciente"
		}
		patient, err = s.directory.UpsertPatient(ctx, appointment.UpsertPatientParams{
			ProfessionalID: professionalID,
			Name:           strings.TrimSpace(name),
			PhoneNumber:    phone,
		})
	}
	if err != nil {
		return nil, err
	}

	upcoming, err := s.upcomingAppointments(ctx, professionalID, patient.ID)
	if err != nil {
		return nil, err
	}
	return &VerifiedPatient{Patient: patient, Upcoming: upcoming}, nil
}

func (s *Service) upcomingAppointments(ctx context.Context, professionalID, patientID uuid.UUID) ([]appointment.Appointment, error) {
	now := time.Now()
	all, err := s.directory.ListAppointments(ctx, professionalID, &now, nil)
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	upcoming := []appointment.Appointment{}
	for _, a := range all {
		if a.PatientID != patientID {
			continue
		}
		if a.Status == appointment.StatusScheduled || a.Status == appointment.StatusConfirmed {
			upcoming = append(upcoming, a)
		}
	}
	return upcoming, nil
}

// Availability returns the month view of open slots.
func (s *Service) Availability(ctx context.Context, professionalID uuid.UUID, year, month int) (*appointment.MonthAvailability, error) {
	if _, err := s.professionalWithPortal(ctx, professionalID); err != nil {
		return nil, err
	}
	return s.scheduling.AvailableSlots(ctx, professionalID, year, month, time.Now())
}

type SubmitBookingParams struct {
	ProfessionalID uuid.UUID
	PatientID      uuid.UUID
	StartsAt       time.Time
	EndsAt         time.Time
	Reason         *string
}

// SubmitBooking records a booking request for review. The slot is checked
// advisorily so patients get immediate feedback on taken slots, but nothing is
// reserved until the professional approves.
func (s *Service) SubmitBooking(ctx context.Context, p SubmitBookingParams) (*PatientRequest, error) {
	if _, err := s.professionalWithPortal(ctx, p.ProfessionalID); err != nil {
		return nil, err
	}
	if _, err := s.directory.GetPatient(ctx, p.ProfessionalID, p.PatientID); err != nil {
		return nil, err
	}
	if !p.EndsAt.After(p.StartsAt) {
		return nil, appointment.ErrInvalidTimeRange
	}
	if err := s.scheduling.CheckAvailability(ctx, p.ProfessionalID, p.StartsAt, p.EndsAt, nil); err != nil {
		return nil, err
	}

	return s.requests.Create(ctx, CreateRequestParams{
		ProfessionalID: p.ProfessionalID,
		PatientID:      p.PatientID,
		Type:           RequestBooking,
		StartsAt:       &p.StartsAt,
		EndsAt:         &p.EndsAt,
		Reason:         p.Reason,
	})
}

type SubmitRescheduleParams struct {
	ProfessionalID uuid.UUID
	PatientID      uuid.UUID
	AppointmentID  uuid.UUID
	StartsAt       time.Time
	EndsAt         time.Time
	Reason         *string
}

func (s *Service) SubmitReschedule(ctx context.Context, p SubmitRescheduleParams) (*PatientRequest, error) {
	if _, err := s.professionalWithPortal(ctx, p.ProfessionalID); err != nil {
		return nil, err
	}
	appt, err := s.ownedActiveAppointment(ctx, p.ProfessionalID, p.PatientID, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !p.EndsAt.After(p.StartsAt) {
		return nil, appointment.ErrInvalidTimeRange
	}
	if err := s.scheduling.CheckAvailability(ctx, p.ProfessionalID, p.StartsAt, p.EndsAt, &appt.ID); err != nil {
		return nil, err
	}

	return s.requests.Create(ctx, CreateRequestParams{
		ProfessionalID: p.ProfessionalID,
		PatientID:      p.PatientID,
		Type:           RequestReschedule,
		AppointmentID:  &appt.ID,
		StartsAt:       &p.StartsAt,
		EndsAt:         &p.EndsAt,
		Reason:         p.Reason,
	})
}

func (s *Service) SubmitCancellation(ctx context.Context, professionalID, patientID, appointmentID uuid.UUID, reason *string) (*PatientRequest, error) {
	if _, err := s.professionalWithPortal(ctx, professionalID); err != nil {
		return nil, err
	}
	appt, err := s.ownedActiveAppointment(ctx, professionalID, patientID, appointmentID)
	if err != nil {
		return nil, err
	}

	return s.requests.Create(ctx, CreateRequestParams{
		ProfessionalID: professionalID,
		PatientID:      patientID,
		Type:           RequestCancellation,
		AppointmentID:  &appt.ID,
		Reason:         reason,
	})
}

func (s *Service) ownedActiveAppointment(ctx context.Context, professionalID, patientID, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	appt, err := s.directory.GetAppointment(ctx, professionalID, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotRequestOwner
	}
	if appt.Status != appointment.StatusScheduled && appt.Status != appointment.StatusConfirmed {
		return nil, fmt.Errorf("%w: o agendamento não está ativo", appointment.ErrInvalidTransition)
	}
	return appt, nil
}

func (s *Service) ListPending(ctx context.Context, professionalID uuid.UUID) ([]PatientRequest, error) {
	return s.requests.ListPending(ctx, professionalID)
}

type ReviewParams struct {
	ProfessionalID uuid.UUID
	RequestID      uuid.UUID
	Approve        bool
	Reason         *string
}

type ReviewResult struct {
	Request     *PatientRequest          `json:"request"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
}

// Review applies or rejects a pending request. Approval executes the
// underlying scheduling operation first; only a successful apply flips the
// request, so a conflicting approval leaves it pending for another look.
func (s *Service) Review(ctx context.Context, p ReviewParams) (*ReviewResult, error) {
	professional, err := s.directory.GetProfessionalByID(ctx, p.ProfessionalID)
	if err != nil {
		return nil, err
	}

	request, err := s.requests.Get(ctx, p.ProfessionalID, p.RequestID)
	if err != nil {
		return nil, err
	}
	if request.Status != RequestPending {
		return nil, fmt.Errorf("%w: solicitação já revisada", ErrRequestNotFound)
	}

	if !p.Approve {
		reviewed, err := s.requests.MarkReviewed(ctx, p.ProfessionalID, p.RequestID, RequestRejected, p.Reason)
		if err != nil {
			return nil, err
		}
		s.notify(ctx, professional, request.PatientID, rejectionText(request.Type))
		return &ReviewResult{Request: reviewed}, nil
	}

	applied, err := s.apply(ctx, request)
	if err != nil {
		return nil, err
	}

	reviewed, err := s.requests.MarkReviewed(ctx, p.ProfessionalID, p.RequestID, RequestApproved, p.Reason)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, professional, request.PatientID, approvalText(request.Type, applied, professionalLocation(professional)))
	return &ReviewResult{Request: reviewed, Appointment: applied}, nil
}

func professionalLocation(p *appointment.Professional) *time.Location {
	if loc, err := time.LoadLocation(p.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

func (s *Service) apply(ctx context.Context, request *PatientRequest) (*appointment.Appointment, error) {
	switch request.Type {
	case RequestBooking:
		if request.StartsAt == nil || request.EndsAt == nil {
			return nil, appointment.ErrInvalidTimeRange
		}
		return s.scheduling.Create(ctx, appointment.CreateParams{
			ProfessionalID: request.ProfessionalID,
			PatientID:      request.PatientID,
			StartsAt:       *request.StartsAt,
			EndsAt:         *request.EndsAt,
			Notes:          request.Reason,
		})
	case RequestReschedule:
		if request.AppointmentID == nil || request.StartsAt == nil || request.EndsAt == nil {
			return nil, appointment.ErrInvalidTimeRange
		}
		result, err := s.scheduling.Reschedule(ctx, request.ProfessionalID, *request.AppointmentID, *request.StartsAt, *request.EndsAt)
		if err != nil {
			return nil, err
		}
		return result.NewAppointment, nil
	case RequestCancellation:
		if request.AppointmentID == nil {
			return nil, ErrRequestNotFound
		}
		return s.scheduling.Cancel(ctx, request.ProfessionalID, *request.AppointmentID, request.Reason)
	default:
		return nil, fmt.Errorf("unknown request type %q", request.Type)
	}
}

func (s *Service) notify(ctx context.Context, professional *appointment.Professional, patientID uuid.UUID, text string) {
	patient, err := s.directory.GetPatient(ctx, professional.ID, patientID)
	if err != nil {
		s.logger.Warn("review notification skipped, patient missing",
			zap.String("patient_id", patientID.String()))
		return
	}
	if _, err := s.sender.Deliver(ctx, patient.PhoneNumber, text, appointment.ProfessionalCredentials(professional)); err != nil {
		s.logger.Warn("review notification failed",
			zap.String("patient_id", patientID.String()),
			zap.Error(err))
	}
}

func approvalText(t RequestType, appt *appointment.Appointment, loc *time.Location) string {
	switch t {
	case RequestBooking:
		return fmt.Sprintf("Sua solicitação de consulta foi aprovada! Consulta marcada para %s.", appt.StartsAt.In(loc).Format("02/01/2006 às 15:04"))
	case RequestReschedule:
		return fmt.Sprintf("Sua remarcação foi aprovada! Nova data: %s.", appt.StartsAt.In(loc).Format("02/01/2006 às 15:04"))
	default:
		return "Seu cancelamento foi confirmado."
	}
}

func rejectionText(t RequestType) string {
	switch t {
	case RequestCancellation:
		return "Sua solicitação de cancelamento não foi aprovada. Entre em contato para mais detalhes."
	default:
		return "Sua solicitação de agendamento não foi aprovada. Escolha outro horário ou entre em contato."
	}
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
