package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/portal"
)

// PortalService is what the patient-facing endpoints need. Satisfied by
// *portal.Service.
type PortalService interface {
	RequestCode(ctx context.Context, professionalID uuid.UUID, phoneNumber string) error
	VerifyCode(ctx context.Context, professionalID uuid.UUID, phoneNumber, code, name string) (*portal.VerifiedPatient, error)
	Availability(ctx context.Context, professionalID uuid.UUID, year, month int) (*appointment.MonthAvailability, error)
	SubmitBooking(ctx context.Context, p portal.SubmitBookingParams) (*portal.PatientRequest, error)
	SubmitReschedule(ctx context.Context, p portal.SubmitRescheduleParams) (*portal.PatientRequest, error)
	SubmitCancellation(ctx context.Context, professionalID, patientID, appointmentID uuid.UUID, reason *string) (*portal.PatientRequest, error)
	ListPending(ctx context.Context, professionalID uuid.UUID) ([]portal.PatientRequest, error)
	Review(ctx context.Context, p portal.ReviewParams) (*portal.ReviewResult, error)
}

func requestCodeHandler(svc PortalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req RequestCodeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := svc.RequestCode(r.Context(), professionalID, req.PhoneNumber); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "code_sent"})
	}
}

func verifyCodeHandler(svc PortalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req VerifyCodeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		verified, err := svc.VerifyCode(r.Context(), professionalID, req.PhoneNumber, req.Code, req.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verified)
	}
}

func portalAvailabilityHandler(svc PortalService) http.HandlerFunc {
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

		avail, err := svc.Availability(r.Context(), professionalID, year, month)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, avail)
	}
}

func portalBookingHandler(svc PortalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req PortalBookingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
			return
		}

		request, err := svc.SubmitBooking(r.Context(), portal.SubmitBookingParams{
			ProfessionalID: professionalID,
			PatientID:      patientID,
			StartsAt:       req.StartsAt,
			EndsAt:         req.EndsAt,
			Reason:         req.Reason,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, request)
	}
}

func portalRescheduleHandler(svc PortalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req PortalRescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
			return
		}
		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentId must be a valid UUID")
			return
		}

		request, err := svc.SubmitReschedule(r.Context(), portal.SubmitRescheduleParams{
			ProfessionalID: professionalID,
			PatientID:      patientID,
			AppointmentID:  appointmentID,
			StartsAt:       req.StartsAt,
			EndsAt:         req.EndsAt,
			Reason:         req.Reason,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, request)
	}
}

func portalCancelHandler(svc PortalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		var req PortalCancelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
			return
		}
		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentId must be a valid UUID")
			return
		}

		request, err := svc.SubmitCancellation(r.Context(), professionalID, patientID, appointmentID, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, request)
	}
}

func listPendingRequestsHandler(svc PortalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}

		pending, err := svc.ListPending(r.Context(), professionalID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if pending == nil {
			pending = []portal.PatientRequest{}
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

func reviewRequestHandler(svc PortalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := pathUUID(r, "professionalID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalID must be a valid UUID")
			return
		}
		requestID, ok := pathUUID(r, "requestID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "requestID must be a valid UUID")
			return
		}

		var req ReviewRequest
		if !decodeBody(w, r, &req) {
			return
		}

		result, err := svc.Review(r.Context(), portal.ReviewParams{
			ProfessionalID: professionalID,
			RequestID:      requestID,
			Approve:        req.Approve,
			Reason:         req.Reason,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
