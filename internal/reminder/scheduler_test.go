package reminder

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/conversation"
	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
	"github.com/clinicbrain/clinic-scheduling/internal/metrics"
)

type fakeAgenda struct {
	professionals []appointment.Professional
	settings      map[uuid.UUID]*appointment.Settings
	appointments  []appointment.Appointment
	patients      map[uuid.UUID]*appointment.Patient
}

func (f *fakeAgenda) ListProfessionals(_ context.Context, limit int) ([]appointment.Professional, error) {
	if len(f.professionals) > limit {
		return f.professionals[:limit], nil
	}
	return f.professionals, nil
}

func (f *fakeAgenda) GetSettings(_ context.Context, professionalID uuid.UUID) (*appointment.Settings, error) {
	if s, ok := f.settings[professionalID]; ok {
		return s, nil
	}
	return appointment.DefaultSettings(professionalID), nil
}

func (f *fakeAgenda) ListActiveAppointmentsInRange(_ context.Context, professionalID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range f.appointments {
		if a.ProfessionalID == professionalID && appointment.Overlaps(from, to, a.StartsAt, a.EndsAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAgenda) GetPatient(_ context.Context, _, patientID uuid.UUID) (*appointment.Patient, error) {
	if p, ok := f.patients[patientID]; ok {
		return p, nil
	}
	return nil, appointment.ErrPatientNotFound
}

type fakeLedger struct {
	claimed map[string]bool
	rows    []conversation.BotInteractionParams
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claimed: map[string]bool{}}
}

func (f *fakeLedger) CreateBotInteraction(_ context.Context, p conversation.BotInteractionParams) (bool, error) {
	key := p.ProfessionalID.String() + ":" + p.ExternalMessageID
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	f.rows = append(f.rows, p)
	return true, nil
}

type fakeReminderSender struct {
	phones []string
	texts  []string
}

func (f *fakeReminderSender) Deliver(_ context.Context, phoneNumber, text string, _ messaging.Credentials) (bool, error) {
	f.phones = append(f.phones, phoneNumber)
	f.texts = append(f.texts, text)
	return true, nil
}

type fixture struct {
	agenda  *fakeAgenda
	ledger  *fakeLedger
	sender  *fakeReminderSender
	metrics *metrics.Metrics
	sched   *Scheduler
	pro     appointment.Professional
	pat     appointment.Patient
	loc     *time.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc := saoPaulo(t)
	pro := appointment.Professional{ID: uuid.New(), Name: "Dra. Ana", Timezone: "America/Sao_Paulo"}
	pat := appointment.Patient{ID: uuid.New(), ProfessionalID: pro.ID, Name: "Maria", PhoneNumber: "5511987654321"}

	agenda := &fakeAgenda{
		professionals: []appointment.Professional{pro},
		settings:      map[uuid.UUID]*appointment.Settings{},
		patients:      map[uuid.UUID]*appointment.Patient{pat.ID: &pat},
	}
	ledger := newFakeLedger()
	sender := &fakeReminderSender{}
	m := metrics.New()

	return &fixture{
		agenda:  agenda,
		ledger:  ledger,
		sender:  sender,
		metrics: m,
		sched:   NewScheduler(agenda, ledger, sender, nil, m, time.Minute, "America/Sao_Paulo"),
		pro:     pro,
		pat:     pat,
		loc:     loc,
	}
}

func (f *fixture) addAppointment(startsAt time.Time, status appointment.Status) appointment.Appointment {
	a := appointment.Appointment{
		ID:             uuid.New(),
		ProfessionalID: f.pro.ID,
		PatientID:      f.pat.ID,
		StartsAt:       startsAt,
		EndsAt:         startsAt.Add(50 * time.Minute),
		Status:         status,
	}
	f.agenda.appointments = append(f.agenda.appointments, a)
	return a
}

func TestRunCycleSendsD1ReminderOnceAtEight(t *testing.T) {
	f := newFixture(t)
	appt := f.addAppointment(time.Date(2026, 9, 2, 10, 0, 0, 0, f.loc), appointment.StatusScheduled)

	eight := time.Date(2026, 9, 1, 8, 0, 0, 0, f.loc)
	stats, err := f.sched.RunCycle(context.Background(), eight)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.D1Sent)
	assert.Equal(t, 0, stats.TwoHourSent)
	require.Len(t, f.sender.texts, 1)
	assert.Contains(t, f.sender.texts[0], "amanhã")
	require.Len(t, f.ledger.rows, 1)
	assert.Equal(t, D1ExternalID(appt.ID, appt.StartsAt), f.ledger.rows[0].ExternalMessageID)
	assert.Equal(t, conversation.MessageBot, f.ledger.rows[0].MessageType)

	// A second sweep in the same minute deduplicates on the ledger.
	stats, err = f.sched.RunCycle(context.Background(), eight.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.D1Sent)
	assert.Len(t, f.sender.texts, 1)
}

func TestRunCycleOutsideD1Window(t *testing.T) {
	f := newFixture(t)
	f.addAppointment(time.Date(2026, 9, 2, 10, 0, 0, 0, f.loc), appointment.StatusScheduled)

	for _, now := range []time.Time{
		time.Date(2026, 9, 1, 8, 1, 0, 0, f.loc),
		time.Date(2026, 9, 1, 12, 0, 0, 0, f.loc),
	} {
		stats, err := f.sched.RunCycle(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.D1Sent, "now=%s", now)
	}
}

func TestRunCycleSends2HReminder(t *testing.T) {
	f := newFixture(t)
	startsAt := time.Date(2026, 9, 1, 14, 0, 0, 0, f.loc)
	appt := f.addAppointment(startsAt, appointment.StatusConfirmed)

	stats, err := f.sched.RunCycle(context.Background(), startsAt.Add(-2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TwoHourSent)
	require.Len(t, f.sender.texts, 1)
	assert.Contains(t, f.sender.texts[0], "hoje às 14:00")
	assert.Equal(t, TwoHourExternalID(appt.ID), f.ledger.rows[0].ExternalMessageID)

	// Redundant sweep inside the same window is deduplicated.
	stats, err = f.sched.RunCycle(context.Background(), startsAt.Add(-2*time.Hour).Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TwoHourSent)
}

func TestRunCycleHonorsSettingsFlags(t *testing.T) {
	f := newFixture(t)
	settings := appointment.DefaultSettings(f.pro.ID)
	settings.ReminderD1Enabled = false
	settings.Reminder2hEnabled = false
	f.agenda.settings[f.pro.ID] = settings

	f.addAppointment(time.Date(2026, 9, 2, 10, 0, 0, 0, f.loc), appointment.StatusScheduled)

	stats, err := f.sched.RunCycle(context.Background(), time.Date(2026, 9, 1, 8, 0, 0, 0, f.loc))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.D1Sent)
	assert.Empty(t, f.sender.texts)
}

func TestRunCycleCustomConfirmationMessage(t *testing.T) {
	f := newFixture(t)
	custom := "Responda SIM para confirmar sua presença."
	settings := appointment.DefaultSettings(f.pro.ID)
	settings.ConfirmationMessage = &custom
	f.agenda.settings[f.pro.ID] = settings

	f.addAppointment(time.Date(2026, 9, 2, 10, 0, 0, 0, f.loc), appointment.StatusScheduled)

	_, err := f.sched.RunCycle(context.Background(), time.Date(2026, 9, 1, 8, 0, 0, 0, f.loc))
	require.NoError(t, err)
	require.Len(t, f.sender.texts, 1)
	assert.Contains(t, f.sender.texts[0], custom)
}

func TestRescheduledDayGetsFreshD1(t *testing.T) {
	f := newFixture(t)
	appt := f.addAppointment(time.Date(2026, 9, 2, 10, 0, 0, 0, f.loc), appointment.StatusScheduled)

	_, err := f.sched.RunCycle(context.Background(), time.Date(2026, 9, 1, 8, 0, 0, 0, f.loc))
	require.NoError(t, err)
	require.Len(t, f.sender.texts, 1)

	// Moving the appointment to Sep 4th changes the ledger key, so the day
	// before the new date gets its own reminder.
	f.agenda.appointments[0].StartsAt = time.Date(2026, 9, 4, 10, 0, 0, 0, f.loc)
	f.agenda.appointments[0].EndsAt = f.agenda.appointments[0].StartsAt.Add(50 * time.Minute)

	stats, err := f.sched.RunCycle(context.Background(), time.Date(2026, 9, 3, 8, 0, 0, 0, f.loc))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.D1Sent)
	assert.NotEqual(t, f.ledger.rows[0].ExternalMessageID, f.ledger.rows[1].ExternalMessageID)
	_ = appt
}

func TestRunCycleSkipsMissingPatient(t *testing.T) {
	f := newFixture(t)
	orphan := appointment.Appointment{
		ID:             uuid.New(),
		ProfessionalID: f.pro.ID,
		PatientID:      uuid.New(), // no such patient
		StartsAt:       time.Date(2026, 9, 2, 10, 0, 0, 0, f.loc),
		EndsAt:         time.Date(2026, 9, 2, 10, 50, 0, 0, f.loc),
		Status:         appointment.StatusScheduled,
	}
	f.agenda.appointments = append(f.agenda.appointments, orphan)

	stats, err := f.sched.RunCycle(context.Background(), time.Date(2026, 9, 1, 8, 0, 0, 0, f.loc))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.D1Sent)
	assert.Equal(t, 0, stats.Errors)
}

func TestRunCycleCountsSentReminders(t *testing.T) {
	f := newFixture(t)
	f.addAppointment(time.Date(2026, 9, 2, 10, 0, 0, 0, f.loc), appointment.StatusScheduled)
	f.addAppointment(time.Date(2026, 9, 1, 10, 0, 0, 0, f.loc), appointment.StatusConfirmed)

	stats, err := f.sched.RunCycle(context.Background(), time.Date(2026, 9, 1, 8, 0, 0, 0, f.loc))
	require.NoError(t, err)
	require.Equal(t, 1, stats.D1Sent)
	require.Equal(t, 1, stats.TwoHourSent)

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `reminders_sent_total{kind="d1"} 1`)
	assert.Contains(t, string(body), `reminders_sent_total{kind="2h"} 1`)
}
