package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicbrain/clinic-scheduling/internal/config"
	"github.com/clinicbrain/clinic-scheduling/internal/db"
)

// Race driver for the booking path: every round fires N concurrent requests
// for the SAME slot of the same professional and checks that exactly one comes
// back 201 while the rest get 409. Run it against a live api-server to watch
// the exclusion constraint arbitrate.

type SimConfig struct {
	APIBaseURL  string
	Workers     int
	Rounds      int
	PostgresDSN string
}

type RoundResult struct {
	Slot      time.Time
	Created   int
	Conflicts int
	Errors    int
	WinnerID  uuid.UUID
}

type latencyTrack struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (lt *latencyTrack) record(d time.Duration) {
	lt.mu.Lock()
	lt.latencies = append(lt.latencies, d)
	lt.mu.Unlock()
}

func (lt *latencyTrack) stats() (avg, p50, p95 time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.latencies) == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, len(lt.latencies))
	copy(sorted, lt.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg = sum / time.Duration(len(sorted))
	p50 = sorted[len(sorted)*50/100]
	p95idx := len(sorted) * 95 / 100
	if p95idx >= len(sorted) {
		p95idx = len(sorted) - 1
	}
	p95 = sorted[p95idx]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("booking race simulator starting")

	cfg := loadSimConfig()
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required (set in .env or environment)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	professionalID, patientIDs, err := loadFixtures(ctx, pgPool, cfg.Workers)
	if err != nil {
		log.Fatalf("load fixtures: %v", err)
	}
	log.Printf("racing %d patients against professional %s", len(patientIDs), professionalID)

	client := &http.Client{Timeout: 10 * time.Second}
	track := &latencyTrack{}

	slot := firstFreeSlot(time.Now())
	results := make([]RoundResult, 0, cfg.Rounds)
	for round := 0; round < cfg.Rounds; round++ {
		result := raceOneSlot(client, cfg, professionalID, patientIDs, slot, track)
		results = append(results, result)

		verdict := "OK"
		if result.Created != 1 {
			verdict = "VIOLATION"
		}
		log.Printf("round %d slot=%s created=%d conflicts=%d errors=%d [%s]",
			round+1, result.Slot.Format(time.RFC3339), result.Created, result.Conflicts, result.Errors, verdict)

		slot = nextSlot(slot)
	}

	printReport(cfg, results, track)
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Workers:     getInt("SIM_WORKERS", 20),
		Rounds:      getInt("SIM_ROUNDS", 5),
		PostgresDSN: baseCfg.PostgresDSN,
	}
}

// loadFixtures picks one professional and enough of its patients to give every
// worker a distinct patient, so the patient-side double-booking guard never
// masks the professional-side race.
func loadFixtures(ctx context.Context, pool *pgxpool.Pool, workers int) (uuid.UUID, []uuid.UUID, error) {
	var professionalID uuid.UUID
	err := pool.QueryRow(ctx, `
		SELECT professional_id FROM patients
		GROUP BY professional_id
		HAVING count(*) >= $1
		LIMIT 1
	`, workers).Scan(&professionalID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("no professional with %d+ patients, run cmd/seed first: %w", workers, err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id FROM patients WHERE professional_id = $1 LIMIT $2
	`, professionalID, workers)
	if err != nil {
		return uuid.Nil, nil, err
	}
	defer rows.Close()

	var patientIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return uuid.Nil, nil, err
		}
		patientIDs = append(patientIDs, id)
	}
	return professionalID, patientIDs, rows.Err()
}

// firstFreeSlot returns an hour-aligned weekday slot far enough in the future
// to stay clear of anything cmd/seed booked.
func firstFreeSlot(now time.Time) time.Time {
	slot := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, time.UTC).AddDate(0, 0, 60)
	for slot.Weekday() == time.Saturday || slot.Weekday() == time.Sunday {
		slot = slot.AddDate(0, 0, 1)
	}
	return slot
}

func nextSlot(slot time.Time) time.Time {
	slot = slot.Add(time.Hour)
	if slot.Hour() >= 18 {
		slot = time.Date(slot.Year(), slot.Month(), slot.Day(), 8, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
	for slot.Weekday() == time.Saturday || slot.Weekday() == time.Sunday {
		slot = slot.AddDate(0, 0, 1)
	}
	return slot
}

func raceOneSlot(client *http.Client, cfg SimConfig, professionalID uuid.UUID, patientIDs []uuid.UUID, slot time.Time, track *latencyTrack) RoundResult {
	result := RoundResult{Slot: slot}
	endsAt := slot.Add(50 * time.Minute)

	var created, conflicts, errs int64
	var winnerMu sync.Mutex

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, patientID := range patientIDs {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-start

			body, _ := json.Marshal(map[string]any{
				"patientId": patientID.String(),
				"startsAt":  slot.Format(time.RFC3339),
				"endsAt":    endsAt.Format(time.RFC3339),
			})

			url := fmt.Sprintf("%s/professionals/%s/appointments", cfg.APIBaseURL, professionalID)
			req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			began := time.Now()
			resp, err := client.Do(req)
			track.record(time.Since(began))
			if err != nil {
				atomic.AddInt64(&errs, 1)
				return
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusCreated:
				atomic.AddInt64(&created, 1)
				var apptResp struct {
					ID uuid.UUID `json:"id"`
				}
				if err := json.NewDecoder(resp.Body).Decode(&apptResp); err == nil {
					winnerMu.Lock()
					result.WinnerID = apptResp.ID
					winnerMu.Unlock()
				}
			case http.StatusConflict:
				atomic.AddInt64(&conflicts, 1)
			default:
				atomic.AddInt64(&errs, 1)
			}
		}(patientID)
	}

	// Release every worker at once to maximize interleaving.
	close(start)
	wg.Wait()

	result.Created = int(created)
	result.Conflicts = int(conflicts)
	result.Errors = int(errs)
	return result
}

func printReport(cfg SimConfig, results []RoundResult, track *latencyTrack) {
	violations := 0
	totalCreated, totalConflicts, totalErrors := 0, 0, 0
	for _, r := range results {
		totalCreated += r.Created
		totalConflicts += r.Conflicts
		totalErrors += r.Errors
		if r.Created != 1 {
			violations++
		}
	}

	avg, p50, p95 := track.stats()

	fmt.Println()
	fmt.Println("BOOKING RACE REPORT")
	fmt.Printf("rounds=%d workers_per_round=%d\n", cfg.Rounds, cfg.Workers)
	fmt.Printf("created=%d conflicts=%d errors=%d\n", totalCreated, totalConflicts, totalErrors)
	fmt.Printf("latency avg=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))

	if violations == 0 {
		fmt.Println("result: every contested slot was won exactly once")
	} else {
		fmt.Printf("result: %d rounds violated single-winner expectation\n", violations)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
