package portal

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
)

type fakeDirectory struct {
	professionals map[uuid.UUID]*appointment.Professional
	settings      map[uuid.UUID]*appointment.Settings
	patients      map[uuid.UUID]*appointment.Patient
	appointments  map[uuid.UUID]*appointment.Appointment
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		professionals: map[uuid.UUID]*appointment.Professional{},
		settings:      map[uuid.UUID]*appointment.Settings{},
		patients:      map[uuid.UUID]*appointment.Patient{},
		appointments:  map[uuid.UUID]*appointment.Appointment{},
	}
}

func (f *fakeDirectory) GetProfessionalByID(_ context.Context, id uuid.UUID) (*appointment.Professional, error) {
	if p, ok := f.professionals[id]; ok {
		return p, nil
	}
	return nil, appointment.ErrProfessionalNotFound
}

func (f *fakeDirectory) GetSettings(_ context.Context, professionalID uuid.UUID) (*appointment.Settings, error) {
	if s, ok := f.settings[professionalID]; ok {
		return s, nil
	}
	return appointment.DefaultSettings(professionalID), nil
}

func (f *fakeDirectory) GetPatient(_ context.Context, professionalID, patientID uuid.UUID) (*appointment.Patient, error) {
	if p, ok := f.patients[patientID]; ok && p.ProfessionalID == professionalID {
		return p, nil
	}
	return nil, appointment.ErrPatientNotFound
}

func (f *fakeDirectory) GetPatientByPhone(_ context.Context, professionalID uuid.UUID, phoneNumber string) (*appointment.Patient, error) {
	for _, p := range f.patients {
		if p.ProfessionalID == professionalID && p.PhoneNumber == phoneNumber {
			return p, nil
		}
	}
	return nil, appointment.ErrPatientNotFound
}

func (f *fakeDirectory) UpsertPatient(ctx context.Context, params appointment.UpsertPatientParams) (*appointment.Patient, error) {
	if existing, err := f.GetPatientByPhone(ctx, params.ProfessionalID, params.PhoneNumber); err == nil {
		return existing, nil
	}
	p := &appointment.Patient{
		ID:             uuid.New(),
		ProfessionalID: params.ProfessionalID,
		Name:           params.Name,
		PhoneNumber:    params.PhoneNumber,
	}
	f.patients[p.ID] = p
	return p, nil
}

func (f *fakeDirectory) GetAppointment(_ context.Context, professionalID, id uuid.UUID) (*appointment.Appointment, error) {
	if a, ok := f.appointments[id]; ok && a.ProfessionalID == professionalID {
		return a, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeDirectory) ListAppointments(_ context.Context, professionalID uuid.UUID, from, to *time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range f.appointments {
		if a.ProfessionalID != professionalID {
			continue
		}
		if from != nil && a.StartsAt.Before(*from) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

type fakeScheduling struct {
	conflict bool
	created  []appointment.CreateParams
	canceled []uuid.UUID
}

func (f *fakeScheduling) Create(_ context.Context, p appointment.CreateParams) (*appointment.Appointment, error) {
	if f.conflict {
		return nil, appointment.ErrSlotTaken
	}
	f.created = append(f.created, p)
	return &appointment.Appointment{
		ID: uuid.New(), ProfessionalID: p.ProfessionalID, PatientID: p.PatientID,
		StartsAt: p.StartsAt, EndsAt: p.EndsAt, Status: appointment.StatusScheduled,
	}, nil
}

func (f *fakeScheduling) Reschedule(_ context.Context, professionalID, appointmentID uuid.UUID, startsAt, endsAt time.Time) (*appointment.RescheduleResult, error) {
	if f.conflict {
		return nil, appointment.ErrSlotTaken
	}
	return &appointment.RescheduleResult{
		OldAppointmentID: appointmentID,
		NewAppointment: &appointment.Appointment{
			ID: uuid.New(), ProfessionalID: professionalID,
			StartsAt: startsAt, EndsAt: endsAt, Status: appointment.StatusScheduled,
			RescheduledFromID: &appointmentID,
		},
	}, nil
}

func (f *fakeScheduling) Cancel(_ context.Context, professionalID, appointmentID uuid.UUID, _ *string) (*appointment.Appointment, error) {
	f.canceled = append(f.canceled, appointmentID)
	return &appointment.Appointment{ID: appointmentID, ProfessionalID: professionalID, Status: appointment.StatusCanceled}, nil
}

func (f *fakeScheduling) CheckAvailability(_ context.Context, _ uuid.UUID, _, _ time.Time, _ *uuid.UUID) error {
	if f.conflict {
		return appointment.ErrSlotTaken
	}
	return nil
}

func (f *fakeScheduling) AvailableSlots(_ context.Context, professionalID uuid.UUID, year, month int, _ time.Time) (*appointment.MonthAvailability, error) {
	return &appointment.MonthAvailability{Year: year, Month: month, SlotDurationMinutes: 50}, nil
}

type fakeRequests struct {
	rows map[uuid.UUID]*PatientRequest
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{rows: map[uuid.UUID]*PatientRequest{}}
}

func (f *fakeRequests) Create(_ context.Context, p CreateRequestParams) (*PatientRequest, error) {
	r := &PatientRequest{
		ID:             uuid.New(),
		ProfessionalID: p.ProfessionalID,
		PatientID:      p.PatientID,
		Type:           p.Type,
		Status:         RequestPending,
		AppointmentID:  p.AppointmentID,
		StartsAt:       p.StartsAt,
		EndsAt:         p.EndsAt,
		Reason:         p.Reason,
		CreatedAt:      time.Now(),
	}
	f.rows[r.ID] = r
	return r, nil
}

func (f *fakeRequests) Get(_ context.Context, professionalID, requestID uuid.UUID) (*PatientRequest, error) {
	if r, ok := f.rows[requestID]; ok && r.ProfessionalID == professionalID {
		return r, nil
	}
	return nil, ErrRequestNotFound
}

func (f *fakeRequests) ListPending(_ context.Context, professionalID uuid.UUID) ([]PatientRequest, error) {
	var out []PatientRequest
	for _, r := range f.rows {
		if r.ProfessionalID == professionalID && r.Status == RequestPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRequests) MarkReviewed(_ context.Context, professionalID, requestID uuid.UUID, status RequestStatus, reviewReason *string) (*PatientRequest, error) {
	r, ok := f.rows[requestID]
	if !ok || r.ProfessionalID != professionalID || r.Status != RequestPending {
		return nil, ErrRequestNotFound
	}
	now := time.Now()
	r.Status = status
	r.ReviewReason = reviewReason
	r.ReviewedAt = &now
	return r, nil
}

type fakeCodes struct {
	issued map[string]string
}

func newFakeCodes() *fakeCodes { return &fakeCodes{issued: map[string]string{}} }

func (f *fakeCodes) Issue(_ context.Context, professionalID uuid.UUID, phoneNumber string) (string, error) {
	f.issued[professionalID.String()+":"+phoneNumber] = "123456"
	return "123456", nil
}

func (f *fakeCodes) Verify(_ context.Context, professionalID uuid.UUID, phoneNumber, code string) error {
	key := professionalID.String() + ":" + phoneNumber
	stored, ok := f.issued[key]
	delete(f.issued, key)
	if !ok || stored != code {
		return ErrCodeMismatch
	}
	return nil
}

type fakePortalSender struct {
	phones []string
	texts  []string
}

func (f *fakePortalSender) Deliver(_ context.Context, phoneNumber, text string, _ messaging.Credentials) (bool, error) {
	f.phones = append(f.phones, phoneNumber)
	f.texts = append(f.texts, text)
	return true, nil
}

type portalFixture struct {
	dir        *fakeDirectory
	scheduling *fakeScheduling
	requests   *fakeRequests
	codes      *fakeCodes
	sender     *fakePortalSender
	svc        *Service
	pro        *appointment.Professional
	pat        *appointment.Patient
}

func newPortalFixture(t *testing.T) *portalFixture {
	t.Helper()
	dir := newFakeDirectory()
	pro := &appointment.Professional{ID: uuid.New(), Name: "Dra. Ana", Timezone: "America/Sao_Paulo"}
	pat := &appointment.Patient{ID: uuid.New(), ProfessionalID: pro.ID, Name: "Maria", PhoneNumber: "5511987654321"}
	dir.professionals[pro.ID] = pro
	dir.patients[pat.ID] = pat

	scheduling := &fakeScheduling{}
	requests := newFakeRequests()
	codes := newFakeCodes()
	sender := &fakePortalSender{}

	return &portalFixture{
		dir: dir, scheduling: scheduling, requests: requests, codes: codes, sender: sender,
		svc: NewService(dir, scheduling, requests, codes, sender, nil, 10*time.Minute),
		pro: pro, pat: pat,
	}
}

func futureSlot() (time.Time, time.Time) {
	start := time.Now().Add(72 * time.Hour).Truncate(time.Hour)
	return start, start.Add(50 * time.Minute)
}

func TestRequestCodeSendsOverWhatsApp(t *testing.T) {
	f := newPortalFixture(t)

	err := f.svc.RequestCode(context.Background(), f.pro.ID, "(11) 98765-4321")
	require.NoError(t, err)

	require.Len(t, f.sender.texts, 1)
	assert.Contains(t, f.sender.texts[0], "123456")
	assert.Equal(t, "11987654321", f.sender.phones[0])
}

func TestRequestCodeRejectsBadPhone(t *testing.T) {
	f := newPortalFixture(t)
	err := f.svc.RequestCode(context.Background(), f.pro.ID, "1234")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestRequestCodePortalDisabled(t *testing.T) {
	f := newPortalFixture(t)
	settings := appointment.DefaultSettings(f.pro.ID)
	settings.PatientPortalEnabled = false
	f.dir.settings[f.pro.ID] = settings

	err := f.svc.RequestCode(context.Background(), f.pro.ID, "11987654321")
	assert.ErrorIs(t, err, ErrPortalDisabled)
}

func TestVerifyCodeExistingPatient(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()

	upcoming := &appointment.Appointment{
		ID: uuid.New(), ProfessionalID: f.pro.ID, PatientID: f.pat.ID,
		StartsAt: time.Now().Add(48 * time.Hour), EndsAt: time.Now().Add(48*time.Hour + 50*time.Minute),
		Status: appointment.StatusScheduled,
	}
	f.dir.appointments[upcoming.ID] = upcoming

	require.NoError(t, f.svc.RequestCode(ctx, f.pro.ID, "5511987654321"))
	verified, err := f.svc.VerifyCode(ctx, f.pro.ID, "5511987654321", "123456", "")
	require.NoError(t, err)

	assert.Equal(t, f.pat.ID, verified.Patient.ID)
	require.Len(t, verified.Upcoming, 1)
	assert.Equal(t, upcoming.ID, verified.Upcoming[0].ID)
}

func TestVerifyCodeCreatesNewPatient(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestCode(ctx, f.pro.ID, "5521912345678"))
	verified, err := f.svc.VerifyCode(ctx, f.pro.ID, "5521912345678", "123456", "João Silva")
	require.NoError(t, err)

	assert.Equal(t, "João Silva", verified.Patient.Name)
	assert.Equal(t, "5521912345678", verified.Patient.PhoneNumber)
	assert.Empty(t, verified.Upcoming)
}

func TestVerifyCodeWrongCode(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestCode(ctx, f.pro.ID, "5511987654321"))
	_, err := f.svc.VerifyCode(ctx, f.pro.ID, "5511987654321", "999999", "")
	assert.ErrorIs(t, err, ErrCodeMismatch)
}

func TestSubmitBookingCreatesPendingRequest(t *testing.T) {
	f := newPortalFixture(t)
	start, end := futureSlot()

	request, err := f.svc.SubmitBooking(context.Background(), SubmitBookingParams{
		ProfessionalID: f.pro.ID,
		PatientID:      f.pat.ID,
		StartsAt:       start,
		EndsAt:         end,
	})
	require.NoError(t, err)

	assert.Equal(t, RequestBooking, request.Type)
	assert.Equal(t, RequestPending, request.Status)
	// Nothing touches the agenda until review.
	assert.Empty(t, f.scheduling.created)
}

func TestSubmitBookingRejectsTakenSlot(t *testing.T) {
	f := newPortalFixture(t)
	f.scheduling.conflict = true
	start, end := futureSlot()

	_, err := f.svc.SubmitBooking(context.Background(), SubmitBookingParams{
		ProfessionalID: f.pro.ID, PatientID: f.pat.ID, StartsAt: start, EndsAt: end,
	})
	assert.ErrorIs(t, err, appointment.ErrSlotTaken)
}

func TestSubmitRescheduleChecksOwnership(t *testing.T) {
	f := newPortalFixture(t)
	other := &appointment.Patient{ID: uuid.New(), ProfessionalID: f.pro.ID, Name: "João", PhoneNumber: "5521912345678"}
	f.dir.patients[other.ID] = other

	start, end := futureSlot()
	appt := &appointment.Appointment{
		ID: uuid.New(), ProfessionalID: f.pro.ID, PatientID: other.ID,
		StartsAt: start, EndsAt: end, Status: appointment.StatusScheduled,
	}
	f.dir.appointments[appt.ID] = appt

	_, err := f.svc.SubmitReschedule(context.Background(), SubmitRescheduleParams{
		ProfessionalID: f.pro.ID,
		PatientID:      f.pat.ID,
		AppointmentID:  appt.ID,
		StartsAt:       start.Add(24 * time.Hour),
		EndsAt:         end.Add(24 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrNotRequestOwner)
}

func TestSubmitCancellationRequiresActiveAppointment(t *testing.T) {
	f := newPortalFixture(t)
	start, end := futureSlot()
	appt := &appointment.Appointment{
		ID: uuid.New(), ProfessionalID: f.pro.ID, PatientID: f.pat.ID,
		StartsAt: start, EndsAt: end, Status: appointment.StatusCanceled,
	}
	f.dir.appointments[appt.ID] = appt

	_, err := f.svc.SubmitCancellation(context.Background(), f.pro.ID, f.pat.ID, appt.ID, nil)
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}

func TestReviewApprovalAppliesBookingAndNotifies(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()
	start, end := futureSlot()

	request, err := f.svc.SubmitBooking(ctx, SubmitBookingParams{
		ProfessionalID: f.pro.ID, PatientID: f.pat.ID, StartsAt: start, EndsAt: end,
	})
	require.NoError(t, err)

	result, err := f.svc.Review(ctx, ReviewParams{
		ProfessionalID: f.pro.ID, RequestID: request.ID, Approve: true,
	})
	require.NoError(t, err)

	assert.Equal(t, RequestApproved, result.Request.Status)
	require.NotNil(t, result.Appointment)
	require.Len(t, f.scheduling.created, 1)
	require.Len(t, f.sender.texts, 1)
	assert.Contains(t, f.sender.texts[0], "aprovada")
}

func TestReviewRejectionLeavesAgendaUntouched(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()
	start, end := futureSlot()

	request, err := f.svc.SubmitBooking(ctx, SubmitBookingParams{
		ProfessionalID: f.pro.ID, PatientID: f.pat.ID, StartsAt: start, EndsAt: end,
	})
	require.NoError(t, err)

	reason := "horário indisponível"
	result, err := f.svc.Review(ctx, ReviewParams{
		ProfessionalID: f.pro.ID, RequestID: request.ID, Approve: false, Reason: &reason,
	})
	require.NoError(t, err)

	assert.Equal(t, RequestRejected, result.Request.Status)
	assert.Nil(t, result.Appointment)
	assert.Empty(t, f.scheduling.created)
	require.Len(t, f.sender.texts, 1)
	assert.Contains(t, f.sender.texts[0], "não foi aprovada")
}

func TestReviewConflictKeepsRequestPending(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()
	start, end := futureSlot()

	request, err := f.svc.SubmitBooking(ctx, SubmitBookingParams{
		ProfessionalID: f.pro.ID, PatientID: f.pat.ID, StartsAt: start, EndsAt: end,
	})
	require.NoError(t, err)

	// The slot got taken between submission and review.
	f.scheduling.conflict = true
	_, err = f.svc.Review(ctx, ReviewParams{ProfessionalID: f.pro.ID, RequestID: request.ID, Approve: true})
	require.ErrorIs(t, err, appointment.ErrSlotTaken)

	pending, err := f.svc.ListPending(ctx, f.pro.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestReviewTwiceFails(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()
	start, end := futureSlot()

	request, err := f.svc.SubmitBooking(ctx, SubmitBookingParams{
		ProfessionalID: f.pro.ID, PatientID: f.pat.ID, StartsAt: start, EndsAt: end,
	})
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, ReviewParams{ProfessionalID: f.pro.ID, RequestID: request.ID, Approve: true})
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, ReviewParams{ProfessionalID: f.pro.ID, RequestID: request.ID, Approve: true})
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestAvailabilityDelegates(t *testing.T) {
	f := newPortalFixture(t)
	avail, err := f.svc.Availability(context.Background(), f.pro.ID, 2026, 9)
	require.NoError(t, err)
	assert.Equal(t, 2026, avail.Year)
	assert.Equal(t, 9, avail.Month)
}
