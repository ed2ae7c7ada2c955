package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Business-hours policy for bookings made on behalf of the professional.
// Deliberately fixed, not per-professional configuration.
const (
	slotDurationMinutes = 50
	slotStartHour       = 8
	slotEndHour         = 18
)

// CheckAvailability is the advisory conflict pre-check: active appointments
// first, declared blocks second. Either hit rejects with a human-readable
// reason embedding the conflicting window. excludeID lets a reschedule ignore
// the appointment being moved.
func (s *Service) CheckAvailability(ctx context.Context, professionalID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) error {
	if !endsAt.After(startsAt) {
		return ErrInvalidTimeRange
	}

	conflict, err := s.repo.FindOverlappingAppointment(ctx, professionalID, startsAt, endsAt, excludeID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("check appointment overlap: %w", err)
	}
	if conflict != nil {
		return fmt.Errorf("%w: %s", ErrSlotTaken, formatWindow(conflict.StartsAt, conflict.EndsAt))
	}

	block, err := s.repo.FindOverlappingBlock(ctx, professionalID, startsAt, endsAt)
	if err != nil && !errors.Is(err, ErrBlockNotFound) {
		return fmt.Errorf("check block overlap: %w", err)
	}
	if block != nil {
		if block.Reason != nil && *block.Reason != "" {
			return fmt.Errorf("%w %s. Motivo: %s", ErrUnavailablePeriod, formatWindow(block.StartsAt, block.EndsAt), *block.Reason)
		}
		return fmt.Errorf("%w %s", ErrUnavailablePeriod, formatWindow(block.StartsAt, block.EndsAt))
	}

	return nil
}

// checkPatientAvailability rejects a second active appointment for the same
// patient in an overlapping window. Used by manual actions and the portal.
func (s *Service) checkPatientAvailability(ctx context.Context, professionalID, patientID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) error {
	conflict, err := s.repo.FindOverlappingPatientAppointment(ctx, professionalID, patientID, startsAt, endsAt, excludeID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("check patient overlap: %w", err)
	}
	if conflict != nil {
		return fmt.Errorf("%w: %s", ErrPatientSlotTaken, formatWindow(conflict.StartsAt, conflict.EndsAt))
	}
	return nil
}

func formatWindow(startsAt, endsAt time.Time) string {
	return fmt.Sprintf("%s até %s", startsAt.Format("02/01/2006 15:04"), endsAt.Format("02/01/2006 15:04"))
}

// ValidateManualWindow enforces the manual-booking policy in the given zone:
// exact 50-minute duration, hour-aligned start, 08:00-18:00, Monday to Friday.
// Policy violations are distinct from slot conflicts.
func ValidateManualWindow(startsAt, endsAt time.Time, loc *time.Location) error {
	if !endsAt.After(startsAt) {
		return ErrInvalidTimeRange
	}

	if endsAt.Sub(startsAt) != slotDurationMinutes*time.Minute {
		return fmt.Errorf("%w: a duração da consulta manual deve ser de %d minutos", ErrBusinessHours, slotDurationMinutes)
	}

	local := startsAt.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return fmt.Errorf("%w: a profissional não atende aos finais de semana", ErrBusinessHours)
	}
	if local.Minute() != 0 {
		return fmt.Errorf("%w: a consulta manual deve iniciar em hora cheia", ErrBusinessHours)
	}
	if local.Hour() < slotStartHour || local.Hour() >= slotEndHour {
		return fmt.Errorf("%w (%02d:00 às %02d:00)", ErrBusinessHours, slotStartHour, slotEndHour)
	}

	return nil
}

// MonthAvailability is the portal's month view of open slots.
type MonthAvailability struct {
	Month               int               `json:"month"`
	Year                int               `json:"year"`
	SlotDurationMinutes int               `json:"slotDurationMinutes"`
	Slots               []Slot            `json:"slots"`
	SlotsByDay          map[string][]Slot `json:"slotsByDay"`
	AvailableDays       []string          `json:"availableDays"`
}

// AvailableSlots generates the bookable slots for a month in the
// professional's timezone: hourly starts from 08:00 to 17:00 on weekdays,
// 50 minutes each, future-only, minus appointment and block conflicts.
func (s *Service) AvailableSlots(ctx context.Context, professionalID uuid.UUID, year, month int, now time.Time) (*MonthAvailability, error) {
	professional, err := s.repo.GetProfessionalByID(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	settings, err := s.repo.GetSettings(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loc := s.location(professional, settings)

	periodStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	periodEnd := periodStart.AddDate(0, 1, 0)

	occupied, err := s.repo.ListActiveAppointmentsInRange(ctx, professionalID, now, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("list occupied slots: %w", err)
	}
	blocked, err := s.repo.ListBlocksInRange(ctx, professionalID, now, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	result := &MonthAvailability{
		Month:               month,
		Year:                year,
		SlotDurationMinutes: slotDurationMinutes,
		Slots:               []Slot{},
		SlotsByDay:          map[string][]Slot{},
	}

	daysInMonth := periodEnd.AddDate(0, 0, -1).Day()
	for day := 1; day <= daysInMonth; day++ {
		reference := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
		if wd := reference.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		for hour := slotStartHour; hour < slotEndHour; hour++ {
			startsAt := time.Date(year, time.Month(month), day, hour, 0, 0, 0, loc)
			endsAt := startsAt.Add(slotDurationMinutes * time.Minute)

			if !startsAt.After(now) {
				continue
			}
			if hasAppointmentOverlap(occupied, startsAt, endsAt) || hasBlockOverlap(blocked, startsAt, endsAt) {
				continue
			}

			slot := Slot{StartsAt: startsAt, EndsAt: endsAt}
			dayKey := startsAt.Format("2006-01-02")
			result.Slots = append(result.Slots, slot)
			result.SlotsByDay[dayKey] = append(result.SlotsByDay[dayKey], slot)
		}
	}

	for day := range result.SlotsByDay {
		result.AvailableDays = append(result.AvailableDays, day)
	}
	sort.Strings(result.AvailableDays)

	return result, nil
}

func hasAppointmentOverlap(appointments []Appointment, startsAt, endsAt time.Time) bool {
	for _, a := range appointments {
		if Overlaps(startsAt, endsAt, a.StartsAt, a.EndsAt) {
			return true
		}
	}
	return false
}

func hasBlockOverlap(blocks []AvailabilityBlock, startsAt, endsAt time.Time) bool {
	for _, b := range blocks {
		if Overlaps(startsAt, endsAt, b.StartsAt, b.EndsAt) {
			return true
		}
	}
	return false
}
