package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID string    `json:"patientId"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	Notes     *string   `json:"notes"`
}

type RescheduleRequest struct {
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
}

type CancelRequest struct {
	Reason *string `json:"reason"`
}

type ManualActionRequest struct {
	Action        string     `json:"action"`
	PatientName   string     `json:"patientName"`
	PatientPhone  string     `json:"patientPhone"`
	PatientEmail  *string    `json:"patientEmail"`
	AppointmentID string     `json:"appointmentId"`
	StartsAt      *time.Time `json:"startsAt"`
	EndsAt        *time.Time `json:"endsAt"`
	Notes         *string    `json:"notes"`
	Reason        *string    `json:"reason"`
}

type CreateBlocksRequest struct {
	Blocks []appointment.BlockInput `json:"blocks"`
}

type RecurringBlocksRequest struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Weekdays  []int     `json:"weekdays"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Reason    *string   `json:"reason"`
}

type RequestCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type VerifyCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	Name        string `json:"name"`
}

type PortalBookingRequest struct {
	PatientID string    `json:"patientId"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	Reason    *string   `json:"reason"`
}

type PortalRescheduleRequest struct {
	PatientID     string    `json:"patientId"`
	AppointmentID string    `json:"appointmentId"`
	StartsAt      time.Time `json:"startsAt"`
	EndsAt        time.Time `json:"endsAt"`
	Reason        *string   `json:"reason"`
}

type PortalCancelRequest struct {
	PatientID     string  `json:"patientId"`
	AppointmentID string  `json:"appointmentId"`
	Reason        *string `json:"reason"`
}

type ReviewRequest struct {
	Approve bool    `json:"approve"`
	Reason  *string `json:"reason"`
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	ProfessionalID    uuid.UUID  `json:"professionalId"`
	PatientID         uuid.UUID  `json:"patientId"`
	StartsAt          time.Time  `json:"startsAt"`
	EndsAt            time.Time  `json:"endsAt"`
	Status            string     `json:"status"`
	Notes             *string    `json:"notes,omitempty"`
	RescheduledFromID *uuid.UUID `json:"rescheduledFromId,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		ProfessionalID:    a.ProfessionalID,
		PatientID:         a.PatientID,
		StartsAt:          a.StartsAt,
		EndsAt:            a.EndsAt,
		Status:            string(a.Status),
		Notes:             a.Notes,
		RescheduledFromID: a.RescheduledFromID,
	}
}

type RescheduleResponse struct {
	OldAppointmentID uuid.UUID           `json:"oldAppointmentId"`
	Appointment      AppointmentResponse `json:"appointment"`
}

type BlockResponse struct {
	ID       uuid.UUID `json:"id"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	Reason   *string   `json:"reason,omitempty"`
}

func toBlockResponses(blocks []appointment.AvailabilityBlock) []BlockResponse {
	out := make([]BlockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, BlockResponse{ID: b.ID, StartsAt: b.StartsAt, EndsAt: b.EndsAt, Reason: b.Reason})
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
