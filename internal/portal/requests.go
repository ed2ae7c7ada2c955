package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRequestNotFound = errors.New("patient request not found")

type RequestType string

const (
	RequestBooking      RequestType = "BOOKING"
	RequestReschedule   RequestType = "RESCHEDULE"
	RequestCancellation RequestType = "CANCELLATION"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// PatientRequest is a scheduling intent submitted through the portal, held for
// the professional's review before it touches the agenda.
type PatientRequest struct {
	ID             uuid.UUID     `json:"id"`
	ProfessionalID uuid.UUID     `json:"professionalId"`
	PatientID      uuid.UUID     `json:"patientId"`
	Type           RequestType   `json:"type"`
	Status         RequestStatus `json:"status"`
	AppointmentID  *uuid.UUID    `json:"appointmentId,omitempty"`
	StartsAt       *time.Time    `json:"startsAt,omitempty"`
	EndsAt         *time.Time    `json:"endsAt,omitempty"`
	Reason         *string       `json:"reason,omitempty"`
	ReviewReason   *string       `json:"reviewReason,omitempty"`
	ReviewedAt     *time.Time    `json:"reviewedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type CreateRequestParams struct {
	ProfessionalID uuid.UUID
	PatientID      uuid.UUID
	Type           RequestType
	AppointmentID  *uuid.UUID
	StartsAt       *time.Time
	EndsAt         *time.Time
	Reason         *string
}

// Requests persists portal scheduling requests.
type Requests interface {
	Create(ctx context.Context, p CreateRequestParams) (*PatientRequest, error)
	Get(ctx context.Context, professionalID, requestID uuid.UUID) (*PatientRequest, error)
	ListPending(ctx context.Context, professionalID uuid.UUID) ([]PatientRequest, error)
	// MarkReviewed flips a PENDING request; reviewing twice returns
	// ErrRequestNotFound so double-submits of the review form are harmless.
	MarkReviewed(ctx context.Context, professionalID, requestID uuid.UUID, status RequestStatus, reviewReason *string) (*PatientRequest, error)
}

type PgRequests struct {
	pool *pgxpool.Pool
}

func NewPgRequests(pool *pgxpool.Pool) *PgRequests {
	return &PgRequests{pool: pool}
}

const requestColumns = `id, professional_id, patient_id, request_type, status,
	appointment_id, starts_at, ends_at, reason, review_reason, reviewed_at, created_at`

func scanRequest(row pgx.Row) (*PatientRequest, error) {
	var r PatientRequest
	err := row.Scan(&r.ID, &r.ProfessionalID, &r.PatientID, &r.Type, &r.Status,
		&r.AppointmentID, &r.StartsAt, &r.EndsAt, &r.Reason, &r.ReviewReason, &r.ReviewedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient request: %w", err)
	}
	return &r, nil
}

func (s *PgRequests) Create(ctx context.Context, p CreateRequestParams) (*PatientRequest, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO patient_requests (id, professional_id, patient_id, request_type, appointment_id, starts_at, ends_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+requestColumns,
		uuid.New(), p.ProfessionalID, p.PatientID, p.Type, p.AppointmentID, p.StartsAt, p.EndsAt, p.Reason)
	return scanRequest(row)
}

func (s *PgRequests) Get(ctx context.Context, professionalID, requestID uuid.UUID) (*PatientRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM patient_requests
		WHERE professional_id = $1 AND id = $2`,
		professionalID, requestID)
	return scanRequest(row)
}

func (s *PgRequests) ListPending(ctx context.Context, professionalID uuid.UUID) ([]PatientRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM patient_requests
		WHERE professional_id = $1 AND status = 'PENDING'
		ORDER BY created_at`,
		professionalID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var out []PatientRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PgRequests) MarkReviewed(ctx context.Context, professionalID, requestID uuid.UUID, status RequestStatus, reviewReason *string) (*PatientRequest, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE patient_requests
		SET status = $3, review_reason = $4, reviewed_at = now(), updated_at = now()
		WHERE professional_id = $1 AND id = $2 AND status = 'PENDING'
		RETURNING `+requestColumns,
		professionalID, requestID, status, reviewReason)
	return scanRequest(row)
}
