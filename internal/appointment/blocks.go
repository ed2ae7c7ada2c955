package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BlockInput struct {
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	Reason   *string   `json:"reason"`
}

// CreateBlocks bulk-creates unavailability windows. All windows are validated
// up front and inserted in one transaction; one bad window rejects the batch.
func (s *Service) CreateBlocks(ctx context.Context, professionalID uuid.UUID, inputs []BlockInput) ([]AvailabilityBlock, error) {
	if len(inputs) == 0 {
		return []AvailabilityBlock{}, nil
	}
	if _, err := s.repo.GetProfessionalByID(ctx, professionalID); err != nil {
		return nil, err
	}

	blocks := make([]AvailabilityBlock, 0, len(inputs))
	for i, in := range inputs {
		if !in.EndsAt.After(in.StartsAt) {
			return nil, fmt.Errorf("%w (bloqueio %d)", ErrInvalidTimeRange, i+1)
		}
		blocks = append(blocks, AvailabilityBlock{
			ProfessionalID: professionalID,
			StartsAt:       in.StartsAt,
			EndsAt:         in.EndsAt,
			Reason:         trimmedOrNil(in.Reason),
		})
	}

	return s.repo.CreateAvailabilityBlocks(ctx, professionalID, blocks)
}

// RecurringBlockParams describes a repeating unavailability window: every
// matching weekday between From and To (inclusive dates, professional's zone)
// gets one block covering StartTime-EndTime of that day.
type RecurringBlockParams struct {
	From      time.Time
	To        time.Time
	Weekdays  []time.Weekday // empty means every day
	StartTime string         // "15:04"; empty means midnight
	EndTime   string         // "15:04"; empty means end of day
	Reason    *string
}

func (s *Service) CreateRecurringBlocks(ctx context.Context, professionalID uuid.UUID, p RecurringBlockParams) ([]AvailabilityBlock, error) {
	professional, err := s.repo.GetProfessionalByID(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	settings, err := s.repo.GetSettings(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loc := s.location(professional, settings)

	from := p.From.In(loc)
	to := p.To.In(loc)
	if to.Before(from) {
		return nil, ErrInvalidTimeRange
	}

	startClock, err := parseClock(p.StartTime, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: horário inicial inválido (%s)", ErrInvalidTimeRange, p.StartTime)
	}
	endClock, err := parseClock(p.EndTime, 24, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: horário final inválido (%s)", ErrInvalidTimeRange, p.EndTime)
	}

	wanted := make(map[time.Weekday]bool, len(p.Weekdays))
	for _, wd := range p.Weekdays {
		wanted[wd] = true
	}

	var inputs []BlockInput
	for day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc); !day.After(to); day = day.AddDate(0, 0, 1) {
		if len(wanted) > 0 && !wanted[day.Weekday()] {
			continue
		}
		inputs = append(inputs, BlockInput{
			StartsAt: day.Add(startClock),
			EndsAt:   day.Add(endClock),
			Reason:   p.Reason,
		})
	}
	if len(inputs) == 0 {
		return []AvailabilityBlock{}, nil
	}

	return s.CreateBlocks(ctx, professionalID, inputs)
}

func parseClock(value string, defHour, defMinute int) (time.Duration, error) {
	if value == "" {
		return time.Duration(defHour)*time.Hour + time.Duration(defMinute)*time.Minute, nil
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (s *Service) ListBlocks(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]AvailabilityBlock, error) {
	return s.repo.ListAvailabilityBlocks(ctx, professionalID, from, to)
}

func (s *Service) DeleteBlock(ctx context.Context, professionalID, blockID uuid.UUID) error {
	return s.repo.DeleteAvailabilityBlock(ctx, professionalID, blockID)
}
