// Package reminder sends the day-before and two-hour appointment reminders.
// Window decisions are pure functions of a clock reading so the exact timing
// rules stay testable without a scheduler.
package reminder

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InD1Window reports whether the day-before reminder fires at this clock
// reading: exactly 08:00 local time, for appointments whose local date is
// tomorrow. The sweep runs every minute, so the minute-wide gate fires once.
func InD1Window(now, startsAt time.Time, loc *time.Location) bool {
	local := now.In(loc)
	if local.Hour() != 8 || local.Minute() != 0 {
		return false
	}

	tomorrow := local.AddDate(0, 0, 1)
	apptLocal := startsAt.In(loc)
	return apptLocal.Year() == tomorrow.Year() &&
		apptLocal.Month() == tomorrow.Month() &&
		apptLocal.Day() == tomorrow.Day()
}

// In2HWindow reports whether the two-hour reminder fires: the appointment
// starts in [2h, 2h+1min) from now.
func In2HWindow(now, startsAt time.Time) bool {
	diff := startsAt.Sub(now)
	return diff >= 2*time.Hour && diff < 2*time.Hour+time.Minute
}

// D1ExternalID is the ledger key for a day-before reminder. The date suffix
// uses the UTC date of the start time, so rescheduling to another day yields a
// fresh reminder while redundant sweeps collapse onto one row.
func D1ExternalID(appointmentID uuid.UUID, startsAt time.Time) string {
	return fmt.Sprintf("reminder:d1:%s:%s", appointmentID, startsAt.UTC().Format("20060102"))
}

// TwoHourExternalID is the ledger key for a two-hour reminder, one per
// appointment.
func TwoHourExternalID(appointmentID uuid.UUID) string {
	return fmt.Sprintf("reminder:2h:%s", appointmentID)
}

// D1Message builds the day-before text. A non-empty custom confirmation
// message from the professional's settings replaces the default prompt.
func D1Message(patientName, professionalName string, startsAt time.Time, loc *time.Location, confirmationMessage *string) string {
	when := startsAt.In(loc).Format("02/01/2006 às 15:04")
	base := fmt.Sprintf("Olá, %s! Lembrete: você tem consulta com %s amanhã, %s.", patientName, professionalName, when)
	if confirmationMessage != nil && *confirmationMessage != "" {
		return base + "\n" + *confirmationMessage
	}
	return base + "\nPor favor, responda CONFIRMAR para confirmar sua presença."
}

// TwoHourMessage builds the two-hour text.
func TwoHourMessage(patientName, professionalName string, startsAt time.Time, loc *time.Location) string {
	when := startsAt.In(loc).Format("15:04")
	return fmt.Sprintf("Olá, %s! Sua consulta com %s é hoje às %s. Até já!", patientName, professionalName, when)
}
