package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/conversation"
	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
	"github.com/clinicbrain/clinic-scheduling/internal/metrics"
)

// maxTenants bounds one sweep. Raising it is fine; paginating is the real fix
// if a deployment ever gets near it.
const maxTenants = 1000

// lookahead covers both reminder kinds: an 08:00 day-before sweep must see an
// appointment late tomorrow evening, which can sit almost 40 hours out.
const lookahead = 48 * time.Hour

// Agenda is the slice of the scheduling repository the sweep reads from.
type Agenda interface {
	ListProfessionals(ctx context.Context, limit int) ([]appointment.Professional, error)
	GetSettings(ctx context.Context, professionalID uuid.UUID) (*appointment.Settings, error)
	ListActiveAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
	GetPatient(ctx context.Context, professionalID, patientID uuid.UUID) (*appointment.Patient, error)
}

// Ledger is the dedup side: an insert that reports false means another sweep
// already claimed this reminder.
type Ledger interface {
	CreateBotInteraction(ctx context.Context, p conversation.BotInteractionParams) (bool, error)
}

type Sender interface {
	Deliver(ctx context.Context, phoneNumber, text string, creds messaging.Credentials) (delivered bool, err error)
}

type CycleStats struct {
	Professionals int
	Scanned       int
	D1Sent        int
	TwoHourSent   int
	Errors        int
}

// Scheduler runs the reminder sweep on a ticker. It assumes a single running
// instance: the interaction ledger makes duplicate sends harmless, but two
// instances would still double the gateway traffic.
type Scheduler struct {
	agenda    Agenda
	ledger    Ledger
	sender    Sender
	logger    *zap.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	defaultTZ string
	running   atomic.Bool
}

func NewScheduler(agenda Agenda, ledger Ledger, sender Sender, logger *zap.Logger, m *metrics.Metrics, interval time.Duration, defaultTimezone string) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		agenda:    agenda,
		ledger:    ledger,
		sender:    sender,
		logger:    logger,
		metrics:   m,
		interval:  interval,
		defaultTZ: defaultTimezone,
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	// A slow sweep must not stack onto the next tick.
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous reminder sweep still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	stats, err := s.RunCycle(ctx, time.Now())
	if err != nil {
		s.logger.Error("reminder sweep failed", zap.Error(err))
		return
	}
	if stats.D1Sent > 0 || stats.TwoHourSent > 0 || stats.Errors > 0 {
		s.logger.Info("reminder sweep finished",
			zap.Int("scanned", stats.Scanned),
			zap.Int("d1_sent", stats.D1Sent),
			zap.Int("2h_sent", stats.TwoHourSent),
			zap.Int("errors", stats.Errors))
	}
}

// RunCycle evaluates every upcoming active appointment against the reminder
// windows at the given clock reading. Exposed for tests and for one-shot runs.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) (CycleStats, error) {
	var stats CycleStats

	professionals, err := s.agenda.ListProfessionals(ctx, maxTenants)
	if err != nil {
		return stats, fmt.Errorf("list professionals: %w", err)
	}
	stats.Professionals = len(professionals)

	for i := range professionals {
		professional := &professionals[i]
		if err := s.sweepProfessional(ctx, professional, now, &stats); err != nil {
			stats.Errors++
			s.logger.Error("reminder sweep failed for professional",
				zap.String("professional_id", professional.ID.String()),
				zap.Error(err))
		}
	}

	return stats, nil
}

func (s *Scheduler) sweepProfessional(ctx context.Context, professional *appointment.Professional, now time.Time, stats *CycleStats) error {
	settings, err := s.agenda.GetSettings(ctx, professional.ID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.ReminderD1Enabled && !settings.Reminder2hEnabled {
		return nil
	}

	loc, err := time.LoadLocation(settings.EffectiveTimezone(professional, s.defaultTZ))
	if err != nil {
		loc = time.UTC
	}

	appointments, err := s.agenda.ListActiveAppointmentsInRange(ctx, professional.ID, now, now.Add(lookahead))
	if err != nil {
		return fmt.Errorf("list upcoming appointments: %w", err)
	}
	stats.Scanned += len(appointments)

	for i := range appointments {
		appt := &appointments[i]

		if settings.ReminderD1Enabled && InD1Window(now, appt.StartsAt, loc) {
			sent, err := s.send(ctx, professional, appt, loc,
				D1ExternalID(appt.ID, appt.StartsAt),
				func(patientName string) string {
					return D1Message(patientName, professional.Name, appt.StartsAt, loc, settings.ConfirmationMessage)
				})
			if err != nil {
				stats.Errors++
				s.logger.Error("d1 reminder failed", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			} else if sent {
				stats.D1Sent++
				s.metrics.ObserveReminder("d1")
			}
		}

		if settings.Reminder2hEnabled && In2HWindow(now, appt.StartsAt) {
			sent, err := s.send(ctx, professional, appt, loc,
				TwoHourExternalID(appt.ID),
				func(patientName string) string {
					return TwoHourMessage(patientName, professional.Name, appt.StartsAt, loc)
				})
			if err != nil {
				stats.Errors++
				s.logger.Error("2h reminder failed", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			} else if sent {
				stats.TwoHourSent++
				s.metrics.ObserveReminder("2h")
			}
		}
	}

	return nil
}

// send claims the ledger row first, then delivers. Claim-before-send keeps
// reminders at-most-once: a crash between the two loses one reminder rather
// than spamming the patient on every subsequent sweep.
func (s *Scheduler) send(ctx context.Context, professional *appointment.Professional, appt *appointment.Appointment, loc *time.Location, externalID string, buildText func(patientName string) string) (bool, error) {
	patient, err := s.agenda.GetPatient(ctx, professional.ID, appt.PatientID)
	if err != nil {
		if errors.Is(err, appointment.ErrPatientNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load patient: %w", err)
	}

	text := buildText(patient.Name)
	claimed, err := s.ledger.CreateBotInteraction(ctx, conversation.BotInteractionParams{
		ProfessionalID:    professional.ID,
		PatientID:         &patient.ID,
		AppointmentID:     &appt.ID,
		MessageText:       text,
		MessageType:       conversation.MessageBot,
		ExternalMessageID: externalID,
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	if _, err := s.sender.Deliver(ctx, patient.PhoneNumber, text, appointment.ProfessionalCredentials(professional)); err != nil {
		return false, fmt.Errorf("deliver reminder: %w", err)
	}
	return true, nil
}
