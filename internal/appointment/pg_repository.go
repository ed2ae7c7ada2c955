package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// exclusionConstraint is the storage-level guard against overlapping active
// appointments. Violations are translated into ErrSlotTaken.
const exclusionConstraint = "appointments_no_overlap_excl"

const pgExclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == exclusionConstraint
}

// Helpers

func scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.PhoneNumber,
		&p.Timezone,
		&p.InstanceName,
		&p.InstanceAPIKey,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfessionalNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.ProfessionalID,
		&p.Name,
		&p.PhoneNumber,
		&p.Email,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ProfessionalID,
		&a.PatientID,
		&a.StartsAt,
		&a.EndsAt,
		&a.Status,
		&a.Notes,
		&a.RescheduledFromID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanBlock(row pgx.Row) (*AvailabilityBlock, error) {
	var b AvailabilityBlock

	err := row.Scan(
		&b.ID,
		&b.ProfessionalID,
		&b.StartsAt,
		&b.EndsAt,
		&b.Reason,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}

	return &b, nil
}

const professionalColumns = `id, name, phone_number, timezone, instance_name, instance_api_key, created_at, updated_at`
const patientColumns = `id, professional_id, name, phone_number, email, status, created_at, updated_at`
const appointmentColumns = `id, professional_id, patient_id, starts_at, ends_at, status, notes, rescheduled_from_id, created_at, updated_at`
const blockColumns = `id, professional_id, starts_at, ends_at, reason, created_at`

// Professionals

func (r *PgRepository) GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+professionalColumns+`
		FROM professionals
		WHERE id = $1
	`, id)
	return scanProfessional(row)
}

func (r *PgRepository) GetProfessionalByInstanceName(ctx context.Context, instanceName string) (*Professional, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+professionalColumns+`
		FROM professionals
		WHERE instance_name = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, instanceName)
	return scanProfessional(row)
}

func (r *PgRepository) ListProfessionals(ctx context.Context, limit int) ([]Professional, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+professionalColumns+`
		FROM professionals
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Professional
	for rows.Next() {
		p, err := scanProfessional(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	return result, rows.Err()
}

func (r *PgRepository) GetSettings(ctx context.Context, professionalID uuid.UUID) (*Settings, error) {
	var s Settings
	err := r.pool.QueryRow(ctx, `
		SELECT professional_id, timezone, reminder_d1_enabled, reminder_2h_enabled,
		       confirmation_message, webhook_enabled, patient_portal_enabled
		FROM professional_settings
		WHERE professional_id = $1
	`, professionalID).Scan(
		&s.ProfessionalID,
		&s.Timezone,
		&s.ReminderD1Enabled,
		&s.Reminder2hEnabled,
		&s.ConfirmationMessage,
		&s.WebhookEnabled,
		&s.PatientPortalEnabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultSettings(professionalID), nil
		}
		return nil, err
	}

	return &s, nil
}

// Patients

func (r *PgRepository) GetPatient(ctx context.Context, professionalID, patientID uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1 AND professional_id = $2
	`, patientID, professionalID)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByPhone(ctx context.Context, professionalID uuid.UUID, phoneNumber string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE professional_id = $1 AND phone_number = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, professionalID, phoneNumber)
	return scanPatient(row)
}

func (r *PgRepository) FindPatientOwnerByPhone(ctx context.Context, phoneNumber string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE phone_number = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, phoneNumber)
	return scanPatient(row)
}

func (r *PgRepository) UpsertPatient(ctx context.Context, p UpsertPatientParams) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, professional_id, name, phone_number, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'ATIVO', now(), now())
		ON CONFLICT (professional_id, phone_number) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    status = 'ATIVO',
		    updated_at = now()
		RETURNING `+patientColumns+`
	`, uuid.New(), p.ProfessionalID, p.Name, p.PhoneNumber, p.Email)
	return scanPatient(row)
}

// Appointments

func (r *PgRepository) GetAppointment(ctx context.Context, professionalID, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND professional_id = $2
	`, id, professionalID)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = $1
		  AND ($2::timestamptz IS NULL OR starts_at >= $2)
		  AND ($3::timestamptz IS NULL OR starts_at <= $3)
		ORDER BY starts_at ASC
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListActiveAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = $1
		  AND status IN ('AGENDADO', 'CONFIRMADO')
		  AND starts_at >= $2
		  AND starts_at <= $3
		ORDER BY starts_at ASC
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) FindOverlappingAppointment(ctx context.Context, professionalID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = $1
		  AND status IN ('AGENDADO', 'CONFIRMADO')
		  AND starts_at < $3
		  AND ends_at > $2
		  AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY starts_at ASC
		LIMIT 1
	`, professionalID, startsAt, endsAt, excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) FindOverlappingPatientAppointment(ctx context.Context, professionalID, patientID uuid.UUID, startsAt, endsAt time.Time, excludeID *uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = $1
		  AND patient_id = $2
		  AND status IN ('AGENDADO', 'CONFIRMADO')
		  AND starts_at < $4
		  AND ends_at > $3
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY starts_at ASC
		LIMIT 1
	`, professionalID, patientID, startsAt, endsAt, excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) FindOverlappingBlock(ctx context.Context, professionalID uuid.UUID, startsAt, endsAt time.Time) (*AvailabilityBlock, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM availability_blocks
		WHERE professional_id = $1
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at ASC
		LIMIT 1
	`, professionalID, startsAt, endsAt)
	return scanBlock(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, p CreateAppointmentParams) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, professional_id, patient_id, starts_at, ends_at, status, notes, rescheduled_from_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'AGENDADO', $6, $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), p.ProfessionalID, p.PatientID, p.StartsAt, p.EndsAt, p.Notes, p.RescheduledFromID)

	appt, err := scanAppointment(row)
	if err != nil {
		if isExclusionViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, current *Appointment, startsAt, endsAt time.Time) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Flip the old row first so its range no longer counts as active when the
	// replacement is inserted; both changes commit or neither does. The status
	// predicate is the CAS: a row a concurrent writer already moved to a
	// terminal state matches zero rows instead of being flipped again.
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'REMARCADO', updated_at = now()
		WHERE id = $1 AND professional_id = $2
		  AND status IN ('AGENDADO', 'CONFIRMADO')
	`, current.ID, current.ProfessionalID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInvalidTransition
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, professional_id, patient_id, starts_at, ends_at, status, rescheduled_from_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'AGENDADO', $6, now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), current.ProfessionalID, current.PatientID, startsAt, endsAt, current.ID)

	created, err := scanAppointment(row)
	if err != nil {
		if isExclusionViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateAppointmentStatus moves an active row to the given status. The status
// predicate makes the transition a CAS: terminal rows (CANCELADO, FALTOU,
// REMARCADO) stay put and the caller gets ErrInvalidTransition.
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
		  AND status IN ('AGENDADO', 'CONFIRMADO')
		RETURNING `+appointmentColumns+`
	`, id, to)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrInvalidTransition
	}
	return appt, err
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'CANCELADO', notes = $2, updated_at = now()
		WHERE id = $1
		  AND status IN ('AGENDADO', 'CONFIRMADO')
		RETURNING `+appointmentColumns+`
	`, id, notes)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrInvalidTransition
	}
	return appt, err
}

// Availability blocks

func (r *PgRepository) CreateAvailabilityBlocks(ctx context.Context, professionalID uuid.UUID, blocks []AvailabilityBlock) ([]AvailabilityBlock, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created := make([]AvailabilityBlock, 0, len(blocks))
	for _, b := range blocks {
		row := tx.QueryRow(ctx, `
			INSERT INTO availability_blocks (id, professional_id, starts_at, ends_at, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING `+blockColumns+`
		`, uuid.New(), professionalID, b.StartsAt, b.EndsAt, b.Reason)

		inserted, err := scanBlock(row)
		if err != nil {
			return nil, fmt.Errorf("insert availability block: %w", err)
		}
		created = append(created, *inserted)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) ListAvailabilityBlocks(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]AvailabilityBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+blockColumns+`
		FROM availability_blocks
		WHERE professional_id = $1
		  AND ($2::timestamptz IS NULL OR starts_at >= $2)
		  AND ($3::timestamptz IS NULL OR starts_at <= $3)
		ORDER BY starts_at ASC
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBlocks(rows)
}

func (r *PgRepository) ListBlocksInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]AvailabilityBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+blockColumns+`
		FROM availability_blocks
		WHERE professional_id = $1
		  AND starts_at <= $3
		  AND ends_at >= $2
		ORDER BY starts_at ASC
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBlocks(rows)
}

func collectBlocks(rows pgx.Rows) ([]AvailabilityBlock, error) {
	var result []AvailabilityBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteAvailabilityBlock(ctx context.Context, professionalID, blockID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_blocks
		WHERE id = $1 AND professional_id = $2
	`, blockID, professionalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}
