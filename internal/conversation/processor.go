package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
)

// ErrConversationBusy means another delivery holds the conversation lock. The
// webhook endpoint answers 5xx so the gateway redelivers once the lock frees.
var ErrConversationBusy = errors.New("conversation is being processed")

// Directory is the slice of the scheduling repository the processor needs for
// tenant and patient resolution.
type Directory interface {
	GetProfessionalByID(ctx context.Context, id uuid.UUID) (*appointment.Professional, error)
	GetProfessionalByInstanceName(ctx context.Context, instanceName string) (*appointment.Professional, error)
	ListProfessionals(ctx context.Context, limit int) ([]appointment.Professional, error)
	GetSettings(ctx context.Context, professionalID uuid.UUID) (*appointment.Settings, error)
	GetPatientByPhone(ctx context.Context, professionalID uuid.UUID, phoneNumber string) (*appointment.Patient, error)
	FindPatientOwnerByPhone(ctx context.Context, phoneNumber string) (*appointment.Patient, error)
}

// Locker serializes processing per conversation so two concurrent webhook
// deliveries for the same phone cannot interleave state transitions.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Sender is the outbound side of the dialogue, satisfied by the gateway.
type Sender interface {
	Deliver(ctx context.Context, phoneNumber, text string, creds messaging.Credentials) (delivered bool, err error)
}

// Result tells the webhook endpoint what happened. Ignored payloads are not
// errors: the gateway gets a 200 either way so it stops redelivering.
type Result struct {
	Ignored   bool   `json:"ignored"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`
	NextState State  `json:"nextState,omitempty"`
}

func ignored(reason string) *Result {
	return &Result{Ignored: true, Reason: reason}
}

type Processor struct {
	repo       Directory
	store      Store
	locker     Locker
	sender     Sender
	logger     *zap.Logger
	bookingURL string
}

func NewProcessor(repo Directory, store Store, locker Locker, sender Sender, logger *zap.Logger, bookingURL string) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		repo:       repo,
		store:      store,
		locker:     locker,
		sender:     sender,
		logger:     logger,
		bookingURL: bookingURL,
	}
}

// Process drives one inbound webhook payload through filtering, tenant
// resolution, dedup, locking, the state machine, persistence and the reply.
func (p *Processor) Process(ctx context.Context, payload map[string]any) (*Result, error) {
	msg := ParsePayload(payload)

	if msg.FromMe {
		return ignored("outgoing message echo"), nil
	}
	if !msg.IsSupportedEvent() {
		return ignored(fmt.Sprintf("unsupported event %q", msg.Event)), nil
	}
	if msg.PhoneNumber == "" {
		return ignored("no usable phone number"), nil
	}
	if msg.Text == "" {
		return ignored("empty message text"), nil
	}

	professional, err := p.resolveTenant(ctx, msg)
	if err != nil {
		return nil, err
	}
	if professional == nil {
		return ignored("tenant not resolved"), nil
	}

	settings, err := p.repo.GetSettings(ctx, professional.ID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.WebhookEnabled {
		return ignored("webhook disabled for professional"), nil
	}

	if msg.ExternalMessageID != "" {
		seen, err := p.store.HasInteraction(ctx, professional.ID, msg.ExternalMessageID)
		if err != nil {
			return nil, err
		}
		if seen {
			return &Result{Ignored: true, Duplicate: true, Reason: "message already processed"}, nil
		}
	}

	lockKey := fmt.Sprintf("conv:%s:%s", professional.ID, msg.PhoneNumber)
	release, ok, err := p.locker.Acquire(ctx, lockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire conversation lock: %w", err)
	}
	if !ok {
		// An ack here would stop the gateway from redelivering, dropping the
		// message for good.
		return nil, ErrConversationBusy
	}
	defer release()

	state := StateInitial
	if session, err := p.store.GetSession(ctx, professional.ID, msg.PhoneNumber); err == nil {
		state = session.CurrentState
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	transition := Transition(state, msg.Text, p.bookingURL, professional.Name)

	var patientID *uuid.UUID
	if patient, err := p.repo.GetPatientByPhone(ctx, professional.ID, msg.PhoneNumber); err == nil {
		patientID = &patient.ID
	} else if !errors.Is(err, appointment.ErrPatientNotFound) {
		return nil, err
	}

	err = p.store.RecordExchange(ctx, ExchangeParams{
		ProfessionalID:    professional.ID,
		PhoneNumber:       msg.PhoneNumber,
		PatientID:         patientID,
		ExternalMessageID: msg.ExternalMessageID,
		InboundText:       msg.Text,
		OutboundText:      transition.Response,
		NextState:         transition.NextState,
		SessionActive:     !transition.ShouldEnd,
	})
	if errors.Is(err, ErrDuplicateExchange) {
		// A concurrent delivery of the same message won the insert race and
		// will send the reply; sending here would double it.
		return &Result{Ignored: true, Duplicate: true, Reason: "message already processed"}, nil
	}
	if err != nil {
		return nil, err
	}

	// The reply goes out after the exchange is committed. A delivery failure
	// must not roll back the state transition, the gateway would replay the
	// message against the already-advanced session.
	delivered, err := p.sender.Deliver(ctx, msg.PhoneNumber, transition.Response, appointment.ProfessionalCredentials(professional))
	if err != nil {
		p.logger.Error("reply delivery failed",
			zap.String("professional_id", professional.ID.String()),
			zap.String("phone_number", msg.PhoneNumber),
			zap.Error(err))
	}

	return &Result{
		Reply:     transition.Response,
		Delivered: delivered,
		NextState: transition.NextState,
	}, nil
}

// resolveTenant picks the professional for an inbound message: explicit id,
// then gateway instance name, then the phone's existing patient record, then
// the single-professional fallback. nil with nil error means unresolved.
func (p *Processor) resolveTenant(ctx context.Context, msg InboundMessage) (*appointment.Professional, error) {
	if msg.ProfessionalID != uuid.Nil {
		professional, err := p.repo.GetProfessionalByID(ctx, msg.ProfessionalID)
		if err == nil {
			return professional, nil
		}
		if !errors.Is(err, appointment.ErrProfessionalNotFound) {
			return nil, err
		}
	}

	if msg.InstanceName != "" {
		professional, err := p.repo.GetProfessionalByInstanceName(ctx, msg.InstanceName)
		if err == nil {
			return professional, nil
		}
		if !errors.Is(err, appointment.ErrProfessionalNotFound) {
			return nil, err
		}
	}

	if patient, err := p.repo.FindPatientOwnerByPhone(ctx, msg.PhoneNumber); err == nil {
		professional, err := p.repo.GetProfessionalByID(ctx, patient.ProfessionalID)
		if err == nil {
			return professional, nil
		}
		if !errors.Is(err, appointment.ErrProfessionalNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, appointment.ErrPatientNotFound) {
		return nil, err
	}

	professionals, err := p.repo.ListProfessionals(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("list professionals: %w", err)
	}
	if len(professionals) == 1 {
		return &professionals[0], nil
	}

	return nil, nil
}
