package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/portal"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps service errors onto HTTP statuses. Unrecognized errors
// become an opaque 500, their details stay in the logs.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidTimeRange),
		errors.Is(err, appointment.ErrInvalidPatientPhone),
		errors.Is(err, appointment.ErrInvalidManualAction),
		errors.Is(err, portal.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())

	case errors.Is(err, appointment.ErrSlotTaken),
		errors.Is(err, appointment.ErrPatientSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())

	case errors.Is(err, appointment.ErrUnavailablePeriod):
		writeError(w, http.StatusConflict, "professional_unavailable", err.Error())

	case errors.Is(err, appointment.ErrBusinessHours):
		writeError(w, http.StatusConflict, "outside_business_hours", err.Error())

	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())

	case errors.Is(err, appointment.ErrProfessionalNotFound):
		writeError(w, http.StatusNotFound, "professional_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrBlockNotFound):
		writeError(w, http.StatusNotFound, "block_not_found", err.Error())
	case errors.Is(err, portal.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found", err.Error())

	case errors.Is(err, portal.ErrCodeMismatch):
		writeError(w, http.StatusUnauthorized, "invalid_code", err.Error())
	case errors.Is(err, portal.ErrPortalDisabled),
		errors.Is(err, portal.ErrNotRequestOwner):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
