package conversation

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

var (
	ErrSessionNotFound = errors.New("conversation session not found")
	// ErrDuplicateExchange means the inbound message id was already logged by a
	// concurrent delivery; the caller must not send the reply again.
	ErrDuplicateExchange = errors.New("inbound message already recorded")
)

// Interaction rows carry who authored the message: the patient, or the bot
// (menu replies and reminders alike).
const (
	MessagePatient = "PACIENTE"
	MessageBot     = "BOT"
)

// Session is one dialogue, keyed by tenant and patient phone.
type Session struct {
	ProfessionalID uuid.UUID
	PhoneNumber    string
	CurrentState   State
	IsActive       bool
	LastMessageAt  time.Time
	CreatedAt      time.Time
}

type ExchangeParams struct {
	ProfessionalID    uuid.UUID
	PhoneNumber       string
	PatientID         *uuid.UUID
	ExternalMessageID string
	InboundText       string
	OutboundText      string
	NextState         State
	SessionActive     bool
}

type BotInteractionParams struct {
	ProfessionalID    uuid.UUID
	PatientID         *uuid.UUID
	AppointmentID     *uuid.UUID
	MessageText       string
	MessageType       string
	ExternalMessageID string
}

// Store persists dialogue state and the interaction log.
type Store interface {
	GetSession(ctx context.Context, professionalID uuid.UUID, phoneNumber string) (*Session, error)
	// HasInteraction reports whether an external message id was already
	// processed for this tenant (webhook redelivery dedup).
	HasInteraction(ctx context.Context, professionalID uuid.UUID, externalMessageID string) (bool, error)
	// RecordExchange atomically logs the inbound message, advances the session
	// and logs the outbound reply. A duplicate external id rolls the whole
	// exchange back and reports ErrDuplicateExchange, so redeliveries never
	// advance state twice.
	RecordExchange(ctx context.Context, p ExchangeParams) error
	// CreateBotInteraction inserts a bot-originated row, returning false when
	// the external id was already recorded. The reminder ledger builds on this.
	CreateBotInteraction(ctx context.Context, p BotInteractionParams) (bool, error)
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) GetSession(ctx context.Context, professionalID uuid.UUID, phoneNumber string) (*Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT professional_id, phone_number, current_state, is_active, last_message_at, created_at
		FROM conversation_sessions
		WHERE professional_id = $1 AND phone_number = $2`,
		professionalID, phoneNumber)

	var sess Session
	var state string
	err := row.Scan(&sess.ProfessionalID, &sess.PhoneNumber, &state, &sess.IsActive, &sess.LastMessageAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.CurrentState = ParseState(state)
	return &sess, nil
}

func (s *PgStore) HasInteraction(ctx context.Context, professionalID uuid.UUID, externalMessageID string) (bool, error) {
	if externalMessageID == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM interactions
			WHERE professional_id = $1 AND external_message_id = $2
		)`, professionalID, externalMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check interaction: %w", err)
	}
	return exists, nil
}

func (s *PgStore) RecordExchange(ctx context.Context, p ExchangeParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin exchange tx: %w", err)
	}
	defer tx.Rollback(ctx)

	externalID := nullable(p.ExternalMessageID)
	_, err = tx.Exec(ctx, `
		INSERT INTO interactions (id, professional_id, patient_id, message_text, message_type, external_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), p.ProfessionalID, p.PatientID, p.InboundText, MessagePatient, externalID)
	if err != nil {
		if isUniqueViolation(err) {
			// The redelivered copy raced us past HasInteraction; that delivery
			// already owns the reply.
			return ErrDuplicateExchange
		}
		return fmt.Errorf("log inbound interaction: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_sessions (professional_id, phone_number, current_state, is_active, last_message_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (professional_id, phone_number) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			is_active = EXCLUDED.is_active,
			last_message_at = now()`,
		p.ProfessionalID, p.PhoneNumber, string(p.NextState), p.SessionActive)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO interactions (id, professional_id, patient_id, message_text, message_type)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), p.ProfessionalID, p.PatientID, p.OutboundText, MessageBot)
	if err != nil {
		return fmt.Errorf("log outbound interaction: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PgStore) CreateBotInteraction(ctx context.Context, p BotInteractionParams) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO interactions (id, professional_id, patient_id, appointment_id, message_text, message_type, external_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (professional_id, external_message_id) WHERE external_message_id IS NOT NULL DO NOTHING`,
		uuid.New(), p.ProfessionalID, p.PatientID, p.AppointmentID, p.MessageText, p.MessageType, nullable(p.ExternalMessageID))
	if err != nil {
		return false, fmt.Errorf("create bot interaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
