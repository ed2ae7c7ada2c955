package appointment

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
)

// fakeRepo is an in-memory Repository good enough for service-level tests.
// It honors the same overlap semantics the storage layer enforces.
type fakeRepo struct {
	professionals map[uuid.UUID]*Professional
	settings      map[uuid.UUID]*Settings
	patients      map[uuid.UUID]*Patient
	appointments  map[uuid.UUID]*Appointment
	blocks        map[uuid.UUID]*AvailabilityBlock
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		professionals: map[uuid.UUID]*Professional{},
		settings:      map[uuid.UUID]*Settings{},
		patients:      map[uuid.UUID]*Patient{},
		appointments:  map[uuid.UUID]*Appointment{},
		blocks:        map[uuid.UUID]*AvailabilityBlock{},
	}
}

func (f *fakeRepo) addProfessional(name, timezone string) *Professional {
	p := &Professional{ID: uuid.New(), Name: name, PhoneNumber: "5511999990000", Timezone: timezone}
	f.professionals[p.ID] = p
	return p
}

func (f *fakeRepo) addPatient(professionalID uuid.UUID, name, phone string) *Patient {
	p := &Patient{ID: uuid.New(), ProfessionalID: professionalID, Name: name, PhoneNumber: phone, Status: "ATIVO"}
	f.patients[p.ID] = p
	return p
}

func (f *fakeRepo) GetProfessionalByID(_ context.Context, id uuid.UUID) (*Professional, error) {
	if p, ok := f.professionals[id]; ok {
		return p, nil
	}
	return nil, ErrProfessionalNotFound
}

func (f *fakeRepo) GetProfessionalByInstanceName(_ context.Context, instanceName string) (*Professional, error) {
	for _, p := range f.professionals {
		if p.InstanceName != nil && strings.EqualFold(*p.InstanceName, instanceName) {
			return p, nil
		}
	}
	return nil, ErrProfessionalNotFound
}

func (f *fakeRepo) ListProfessionals(_ context.Context, limit int) ([]Professional, error) {
	out := make([]Professional, 0, len(f.professionals))
	for _, p := range f.professionals {
		out = append(out, *p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) GetSettings(_ context.Context, professionalID uuid.UUID) (*Settings, error) {
	if s, ok := f.settings[professionalID]; ok {
		return s, nil
	}
	return DefaultSettings(professionalID), nil
}

func (f *fakeRepo) GetPatient(_ context.Context, professionalID, patientID uuid.UUID) (*Patient, error) {
	if p, ok := f.patients[patientID]; ok && p.ProfessionalID == professionalID {
		return p, nil
	}
	return nil, ErrPatientNotFound
}

func (f *fakeRepo) GetPatientByPhone(_ context.Context, professionalID uuid.UUID, phoneNumber string) (*Patient, error) {
	for _, p := range f.patients {
		if p.ProfessionalID == professionalID && p.PhoneNumber == phoneNumber {
			return p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (f *fakeRepo) FindPatientOwnerByPhone(_ context.Context, phoneNumber string) (*Patient, error) {
	var newest *Patient
	for _, p := range f.patients {
		if p.PhoneNumber != phoneNumber {
			continue
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if newest == nil {
		return nil, ErrPatientNotFound
	}
	return newest, nil
}

func (f *fakeRepo) UpsertPatient(ctx context.Context, params UpsertPatientParams) (*Patient, error) {
	if existing, err := f.GetPatientByPhone(ctx, params.ProfessionalID, params.PhoneNumber); err == nil {
		existing.Name = params.Name
		if params.Email != nil {
			existing.Email = params.Email
		}
		return existing, nil
	}
	p := &Patient{
		ID:             uuid.New(),
		ProfessionalID: params.ProfessionalID,
		Name:           params.Name,
		PhoneNumber:    params.PhoneNumber,
		Email:          params.Email,
		Status:         "ATIVO",
		CreatedAt:      time.Now(),
	}
	f.patients[p.ID] = p
	return p, nil
}

func (f *fakeRepo) GetAppointment(_ context.Context, professionalID, id uuid.UUID) (*Appointment, error) {
	if a, ok := f.appointments[id]; ok && a.ProfessionalID == professionalID {
		return a, nil
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) ListAppointments(_ context.Context, professionalID uuid.UUID, from, to *time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.appointments {
		if a.ProfessionalID != professionalID {
			continue
		}
		if from != nil && a.StartsAt.Before(*from) {
			continue
		}
		if to != nil && !a.StartsAt.Before(*to) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (f *fakeRepo) ListActiveAppointmentsInRange(_ context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.appointments {
		if a.ProfessionalID == professionalID && isActive(a.Status) && Overlaps(from, to, a.StartsAt, a.EndsAt) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func isActive(s Status) bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (f *fakeRepo) FindOverlappingAppointment(_ context.Context, professionalID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) (*Appointment, error) {
	for _, a := range f.appointments {
		if a.ProfessionalID != professionalID || !isActive(a.Status) {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if Overlaps(startsAt, endsAt, a.StartsAt, a.EndsAt) {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindOverlappingPatientAppointment(_ context.Context, professionalID, patientID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) (*Appointment, error) {
	for _, a := range f.appointments {
		if a.ProfessionalID != professionalID || a.PatientID != patientID || !isActive(a.Status) {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if Overlaps(startsAt, endsAt, a.StartsAt, a.EndsAt) {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindOverlappingBlock(_ context.Context, professionalID uuid.UUID, startsAt, endsAt time.Time) (*AvailabilityBlock, error) {
	for _, b := range f.blocks {
		if b.ProfessionalID == professionalID && Overlaps(startsAt, endsAt, b.StartsAt, b.EndsAt) {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CreateAppointment(ctx context.Context, p CreateAppointmentParams) (*Appointment, error) {
	if hit, _ := f.FindOverlappingAppointment(ctx, p.ProfessionalID, p.StartsAt, p.EndsAt, nil); hit != nil {
		return nil, ErrSlotTaken
	}
	a := &Appointment{
		ID:                uuid.New(),
		ProfessionalID:    p.ProfessionalID,
		PatientID:         p.PatientID,
		StartsAt:          p.StartsAt,
		EndsAt:            p.EndsAt,
		Status:            StatusScheduled,
		Notes:             p.Notes,
		RescheduledFromID: p.RescheduledFromID,
		CreatedAt:         time.Now(),
	}
	f.appointments[a.ID] = a
	return a, nil
}

func (f *fakeRepo) RescheduleAppointment(ctx context.Context, current *Appointment, startsAt, endsAt time.Time) (*Appointment, error) {
	stored, ok := f.appointments[current.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !isActive(stored.Status) {
		return nil, ErrInvalidTransition
	}
	previous := stored.Status
	stored.Status = StatusRescheduled
	created, err := f.CreateAppointment(ctx, CreateAppointmentParams{
		ProfessionalID:    current.ProfessionalID,
		PatientID:         current.PatientID,
		StartsAt:          startsAt,
		EndsAt:            endsAt,
		Notes:             current.Notes,
		RescheduledFromID: &current.ID,
	})
	if err != nil {
		stored.Status = previous
		return nil, err
	}
	return created, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !isActive(a.Status) {
		return nil, ErrInvalidTransition
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	return a, nil
}

func (f *fakeRepo) CancelAppointment(_ context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !isActive(a.Status) {
		return nil, ErrInvalidTransition
	}
	a.Status = StatusCanceled
	a.Notes = &notes
	a.UpdatedAt = time.Now()
	return a, nil
}

func (f *fakeRepo) CreateAvailabilityBlocks(_ context.Context, professionalID uuid.UUID, blocks []AvailabilityBlock) ([]AvailabilityBlock, error) {
	out := make([]AvailabilityBlock, 0, len(blocks))
	for _, b := range blocks {
		b.ID = uuid.New()
		b.ProfessionalID = professionalID
		b.CreatedAt = time.Now()
		stored := b
		f.blocks[b.ID] = &stored
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeRepo) ListAvailabilityBlocks(_ context.Context, professionalID uuid.UUID, from, to *time.Time) ([]AvailabilityBlock, error) {
	var out []AvailabilityBlock
	for _, b := range f.blocks {
		if b.ProfessionalID != professionalID {
			continue
		}
		if from != nil && b.EndsAt.Before(*from) {
			continue
		}
		if to != nil && !b.StartsAt.Before(*to) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (f *fakeRepo) ListBlocksInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]AvailabilityBlock, error) {
	return f.ListAvailabilityBlocks(ctx, professionalID, &from, &to)
}

func (f *fakeRepo) DeleteAvailabilityBlock(_ context.Context, professionalID, blockID uuid.UUID) error {
	if b, ok := f.blocks[blockID]; ok && b.ProfessionalID == professionalID {
		delete(f.blocks, blockID)
		return nil
	}
	return ErrBlockNotFound
}

// fakeSender records deliveries and can simulate failures.
type fakeSender struct {
	phones []string
	texts  []string
	fail   bool
}

func (f *fakeSender) Deliver(_ context.Context, phoneNumber, text string, _ messaging.Credentials) (bool, error) {
	if f.fail {
		return false, nil
	}
	f.phones = append(f.phones, phoneNumber)
	f.texts = append(f.texts, text)
	return true, nil
}
