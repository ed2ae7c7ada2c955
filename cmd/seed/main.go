package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicbrain/clinic-scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	seedCtx := context.Background()

	professionals, err := seedProfessionals(seedCtx, pool, 20)
	if err != nil {
		log.Fatalf("seed professionals: %v", err)
	}

	patients, err := seedPatients(seedCtx, pool, professionals, 50)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	if err := seedAppointments(seedCtx, pool, patients); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

type seededPatient struct {
	id             uuid.UUID
	professionalID uuid.UUID
}

func seedProfessionals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d professionals", count)

	timezones := []string{
		"America/Sao_Paulo",
		"America/Manaus",
		"America/Fortaleza",
		"America/Cuiaba",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr(a). " + gofakeit.Name()
		phone := fmt.Sprintf("5511%08d", gofakeit.Number(10000000, 99999999))
		tz := timezones[gofakeit.Number(0, len(timezones)-1)]
		instance := fmt.Sprintf("clinic-%s-%d", gofakeit.Username(), i)

		_, err := tx.Exec(ctx, `
			INSERT INTO professionals (id, name, phone_number, timezone, instance_name, instance_api_key)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, name, phone, tz, instance, gofakeit.UUID())
		if err != nil {
			return nil, err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO professional_settings (professional_id, reminder_d1_enabled, reminder_2h_enabled, webhook_enabled, patient_portal_enabled)
			VALUES ($1, true, true, true, true)
		`, id)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("professionals seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, professionals []uuid.UUID, perProfessional int) ([]seededPatient, error) {
	log.Printf("seeding %d patients per professional", perProfessional)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	patients := make([]seededPatient, 0, len(professionals)*perProfessional)
	for _, professionalID := range professionals {
		for i := 0; i < perProfessional; i++ {
			id := uuid.New()
			phone := fmt.Sprintf("5511%09d", gofakeit.Number(100000000, 999999999))
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, professional_id, name, phone_number, email)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (professional_id, phone_number) DO NOTHING
			`, id, professionalID, gofakeit.Name(), phone, email)
			if err != nil {
				return nil, err
			}
			patients = append(patients, seededPatient{id: id, professionalID: professionalID})
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Printf("patients seeded: %d", len(patients))
	return patients, nil
}

// seedAppointments books each patient into its own hour-aligned weekday slot
// over the next weeks, so seeded rows never trip the overlap constraint.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, patients []seededPatient) error {
	log.Printf("seeding appointments for %d patients", len(patients))

	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return err
	}

	slotsByProfessional := make(map[uuid.UUID]time.Time)
	nextSlot := func(professionalID uuid.UUID) time.Time {
		slot, ok := slotsByProfessional[professionalID]
		if !ok {
			now := time.Now().In(loc)
			slot = time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, loc).AddDate(0, 0, 1)
		} else {
			slot = slot.Add(time.Hour)
			if slot.Hour() >= 18 {
				slot = time.Date(slot.Year(), slot.Month(), slot.Day(), 8, 0, 0, 0, loc).AddDate(0, 0, 1)
			}
		}
		for slot.Weekday() == time.Saturday || slot.Weekday() == time.Sunday {
			slot = slot.AddDate(0, 0, 1)
		}
		slotsByProfessional[professionalID] = slot
		return slot
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	booked := 0
	for _, p := range patients {
		// Roughly half the patients get an upcoming appointment.
		if gofakeit.Bool() {
			continue
		}

		startsAt := nextSlot(p.professionalID)
		endsAt := startsAt.Add(50 * time.Minute)
		status := "AGENDADO"
		if gofakeit.Number(0, 3) == 0 {
			status = "CONFIRMADO"
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, professional_id, patient_id, starts_at, ends_at, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New(), p.professionalID, p.id, startsAt, endsAt, status)
		if err != nil {
			return err
		}
		booked++
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("appointments seeded: %d", booked)
	return nil
}
