package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/metrics"
)

// SchedulingService is what the agenda endpoints need from the appointment
// service. Satisfied by *appointment.Service.
type SchedulingService interface {
	Create(ctx context.Context, p appointment.CreateParams) (*appointment.Appointment, error)
	Get(ctx context.Context, professionalID, appointmentID uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]appointment.Appointment, error)
	Reschedule(ctx context.Context, professionalID, appointmentID uuid.UUID, startsAt, endsAt time.Time) (*appointment.RescheduleResult, error)
	Cancel(ctx context.Context, professionalID, appointmentID uuid.UUID, reason *string) (*appointment.Appointment, error)
	ConfirmPresence(ctx context.Context, professionalID, appointmentID uuid.UUID) (*appointment.Appointment, error)
	ExecuteManualAction(ctx context.Context, p appointment.ManualActionParams) (*appointment.ManualActionResult, error)
	AvailableSlots(ctx context.Context, professionalID uuid.UUID, year, month int, now time.Time) (*appointment.MonthAvailability, error)
	CreateBlocks(ctx context.Context, professionalID uuid.UUID, inputs []appointment.BlockInput) ([]appointment.AvailabilityBlock, error)
	CreateRecurringBlocks(ctx context.Context, professionalID uuid.UUID, p appointment.RecurringBlockParams) ([]appointment.AvailabilityBlock, error)
	ListBlocks(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]appointment.AvailabilityBlock, error)
	DeleteBlock(ctx context.Context, professionalID, blockID uuid.UUID) error
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func createAppointmentHandler(svc SchedulingService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
			return
		}

		appt, err := svc.Create(r.Context(), appointment.CreateParams{
			ProfessionalID: professionalID,
			PatientID:      patientID,
			StartsAt:       req.StartsAt,
			EndsAt:         req.EndsAt,
			Notes:          req.Notes,
		})
		if err != nil {
			if isConflict(err) {
				m.ObserveBookingConflict()
			}
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func isConflict(err error) bool {
	return errors.Is(err, appointment.ErrSlotTaken) ||
		errors.Is(err, appointment.ErrPatientSlotTaken) ||
		errors.Is(err, appointment.ErrUnavailablePeriod)
}

func listAppointmentsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		from, ok := timeQuery(w, r, "from")
		if !ok {
			return
		}
		to, ok := timeQuery(w, r, "to")
		if !ok {
			return
		}

		appointments, err := svc.List(r.Context(), professionalID, from, to)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appointments))
		for i := range appointments {
			out = append(out, toAppointmentResponse(&appointments[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func timeQuery(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_filter", name+" must be RFC3339")
		return nil, false
	}
	return &t, true
}

func getAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Get(r.Context(), professionalID, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc SchedulingService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}

		result, err := svc.Reschedule(r.Context(), professionalID, id, req.StartsAt, req.EndsAt)
		if err != nil {
			if isConflict(err) {
				m.ObserveBookingConflict()
			}
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, RescheduleResponse{
			OldAppointmentID: result.OldAppointmentID,
			Appointment:      toAppointmentResponse(result.NewAppointment),
		})
	}
}

func cancelAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelRequest
		if r.ContentLength > 0 && !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Cancel(r.Context(), professionalID, id, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.ConfirmPresence(r.Context(), professionalID, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func manualActionHandler(svc SchedulingService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req ManualActionRequest
		if !decodeBody(w, r, &req) {
			return
		}

		params := appointment.ManualActionParams{
			ProfessionalID: professionalID,
			Action:         appointment.ManualAction(req.Action),
			PatientName:    req.PatientName,
			PatientPhone:   req.PatientPhone,
			PatientEmail:   req.PatientEmail,
			Notes:          req.Notes,
			Reason:         req.Reason,
		}
		if req.StartsAt != nil {
			params.StartsAt = *req.StartsAt
		}
		if req.EndsAt != nil {
			params.EndsAt = *req.EndsAt
		}
		if req.AppointmentID != "" {
			id, err := uuid.Parse(req.AppointmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentId must be a valid UUID")
				return
			}
			params.AppointmentID = id
		}

		result, err := svc.ExecuteManualAction(r.Context(), params)
		if err != nil {
			if isConflict(err) {
				m.ObserveBookingConflict()
			}
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func availabilityHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		year, month, ok := yearMonthQuery(w, r)
		if !ok {
			return
		}

		avail, err := svc.AvailableSlots(r.Context(), professionalID, year, month, time.Now())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, avail)
	}
}

func yearMonthQuery(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	now := time.Now()
	year, month := now.Year(), int(now.Month())

	if raw := r.URL.Query().Get("year"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 2000 || v > 2200 {
			writeError(w, http.StatusBadRequest, "invalid_year", "year must be a four-digit year")
			return 0, 0, false
		}
		year = v
	}
	if raw := r.URL.Query().Get("month"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 12 {
			writeError(w, http.StatusBadRequest, "invalid_month", "month must be 1-12")
			return 0, 0, false
		}
		month = v
	}
	return year, month, true
}

func createBlocksHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req CreateBlocksRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Blocks) == 0 {
			writeError(w, http.StatusBadRequest, "empty_blocks", "blocks must not be empty")
			return
		}

		blocks, err := svc.CreateBlocks(r.Context(), professionalID, req.Blocks)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBlockResponses(blocks))
	}
}

func createRecurringBlocksHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req RecurringBlocksRequest
		if !decodeBody(w, r, &req) {
			return
		}

		weekdays := make([]time.Weekday, 0, len(req.Weekdays))
		for _, wd := range req.Weekdays {
			if wd < 0 || wd > 6 {
				writeError(w, http.StatusBadRequest, "invalid_weekday", "weekdays must be 0 (Sunday) to 6 (Saturday)")
				return
			}
			weekdays = append(weekdays, time.Weekday(wd))
		}

		blocks, err := svc.CreateRecurringBlocks(r.Context(), professionalID, appointment.RecurringBlockParams{
			From:      req.From,
			To:        req.To,
			Weekdays:  weekdays,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Reason:    req.Reason,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBlockResponses(blocks))
	}
}

func listBlocksHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		from, ok := timeQuery(w, r, "from")
		if !ok {
			return
		}
		to, ok := timeQuery(w, r, "to")
		if !ok {
			return
		}

		blocks, err := svc.ListBlocks(r.Context(), professionalID, from, to)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBlockResponses(blocks))
	}
}

func deleteBlockHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}
		blockID, ok := pathUUID(r, "blockID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_block_id", "blockID must be a valid UUID")
			return
		}

		if err := svc.DeleteBlock(r.Context(), professionalID, blockID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
