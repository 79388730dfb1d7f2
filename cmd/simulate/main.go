package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tiagoc-santos/DataBase-Project/internal/config"
	"github.com/tiagoc-santos/DataBase-Project/internal/db"
	"github.com/tiagoc-santos/DataBase-Project/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	PostgresDSN  string
}

// target is a clinic/specialty pair workers query availability for.
type target struct {
	Clinic    string
	Specialty string
}

type slot struct {
	Clinic string
	NIF    int64
	Date   string
	Time   string
}

type DataPool struct {
	Patients []int64
	Targets  []target
	mu       sync.RWMutex
	booked   []booking // appointments created by this run
}

type booking struct {
	SSN  int64
	Slot slot
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

// TakeBooking removes and returns a random booking made by this run.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booking{}, false
	}
	idx := rng.Intn(len(dp.booked))
	b := dp.booked[idx]
	dp.booked[idx] = dp.booked[len(dp.booked)-1]
	dp.booked = dp.booked[:len(dp.booked)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Contention   OperationMetrics
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev")).With().Str("service", "simulate").Logger()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("targets", len(dataPool.Targets)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.RunContention(context.Background())
	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT ssn FROM paciente LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Patients, err = pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	rows, err = pool.Query(ctx, `
		SELECT DISTINCT t.nome, m.especialidade
		FROM trabalha t
		JOIN medico m ON m.nif = t.nif
	`)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	dataPool.Targets, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (target, error) {
		var t target
		err := row.Scan(&t.Clinic, &t.Specialty)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Targets) == 0 {
		return nil, fmt.Errorf("no clinic/specialty pairs loaded")
	}
	return dataPool, nil
}

// RunContention fires every worker at the same free slot at once. Exactly
// one booking should succeed and the rest should see 409.
func (s *Simulator) RunContention(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var free []slot
	for _, t := range s.pool.Targets {
		free = s.availability(ctx, t)
		if len(free) > 0 {
			break
		}
	}
	if len(free) == 0 {
		s.log.Warn().Msg("no free slot found, skipping contention round")
		return
	}
	contested := free[0]

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < s.config.Workers; i++ {
		ssn := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			status := s.post(ctx, "registar", ssn, contested, &s.metrics.Contention)
			if status == http.StatusCreated {
				s.pool.AddBooking(booking{SSN: ssn, Slot: contested})
			}
		}()
	}
	close(start)
	wg.Wait()

	s.log.Info().
		Int64("committed", atomic.LoadInt64(&s.metrics.Contention.Success)).
		Int64("conflicts", atomic.LoadInt64(&s.metrics.Contention.Conflict)).
		Int64("other", atomic.LoadInt64(&s.metrics.Contention.Rejected)+atomic.LoadInt64(&s.metrics.Contention.Error)).
		Msg("contention round complete")
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			start := time.Now()
			t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
			status := s.get(ctx, fmt.Sprintf("/c/%s/%s/", url.PathEscape(t.Clinic), url.PathEscape(t.Specialty)), nil)
			s.metrics.Availability.Record(time.Since(start), status)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	free := s.availability(ctx, t)
	if len(free) == 0 {
		return
	}
	sl := free[rng.Intn(len(free))]
	ssn := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	if s.post(ctx, "registar", ssn, sl, &s.metrics.Booking) == http.StatusCreated {
		s.pool.AddBooking(booking{SSN: ssn, Slot: sl})
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	s.post(ctx, "cancelar", b.SSN, b.Slot, &s.metrics.Cancel)
}

func (s *Simulator) availability(ctx context.Context, t target) []slot {
	var resp []struct {
		DoctorNIF int64  `json:"doctor_nif"`
		Date      string `json:"date"`
		Time      string `json:"time"`
	}
	path := fmt.Sprintf("/c/%s/%s/", url.PathEscape(t.Clinic), url.PathEscape(t.Specialty))
	if s.get(ctx, path, &resp) != http.StatusOK {
		return nil
	}

	out := make([]slot, 0, len(resp))
	for _, r := range resp {
		out = append(out, slot{Clinic: t.Clinic, NIF: r.DoctorNIF, Date: r.Date, Time: r.Time})
	}
	return out
}

func (s *Simulator) get(ctx context.Context, path string, into any) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return 0
		}
	}
	return resp.StatusCode
}

func (s *Simulator) post(ctx context.Context, action string, ssn int64, sl slot, om *OperationMetrics) int {
	q := url.Values{}
	q.Set("paciente", strconv.FormatInt(ssn, 10))
	q.Set("medico", strconv.FormatInt(sl.NIF, 10))
	q.Set("data", sl.Date)
	q.Set("hora", sl.Time)

	endpoint := fmt.Sprintf("%s/a/%s/%s/?%s", s.config.APIBaseURL, url.PathEscape(sl.Clinic), action, q.Encode())

	start := time.Now()
	status := 0
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err == nil {
		resp, err := s.client.Do(req)
		if err == nil {
			status = resp.StatusCode
			resp.Body.Close()
		}
	}
	om.Record(time.Since(start), status)
	return status
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Contention (same slot)", &s.metrics.Contention)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	p50, p95, max := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", om.Success, pct(om.Success))
	if om.Conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", om.Conflict, pct(om.Conflict))
	}
	if om.Rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", om.Rejected, pct(om.Rejected))
	}
	if om.Error > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", om.Error, pct(om.Error))
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
