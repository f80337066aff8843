// README: Bench cases: environment checks, the trip lifecycle, booking race and search load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"carpool/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// Filled in as the lifecycle cases run.
	pilot     string
	tripID    string
	winner    string
	scheduled time.Time
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:       cfg,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		pilot:     fmt.Sprintf("benchpilot%d", time.Now().UnixNano()),
		scheduled: time.Now().Add(3 * time.Hour).UTC().Truncate(time.Second),
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN, 4); err == nil {
			r.db = db
		} else {
			fmt.Printf("db unavailable: %v\n", err)
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusSkip, Note: "dsn not set"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not set"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration || r.db == nil {
				return Result{Status: statusSkip, Note: "apply-migration=false or no db"}
			}
			if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationsDir); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodGet, "/health", "", nil)
			return expect(code, latency, err, http.StatusOK)
		}},
		{Name: "API: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodGet, "/api/me/trips", "", nil)
			return expect(code, latency, err, http.StatusUnauthorized)
		}},
		{Name: "Trip: create missing destination -> 400", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/trips", r.pilot, map[string]any{
				"source": "Coimbatore", "scheduled_at": r.scheduled,
			})
			return expect(code, latency, err, http.StatusBadRequest)
		}},
		{Name: "Trip: pilot publishes", Run: createTrip},
		{Name: "Search: exact finds the trip", Run: searchExact},
		{Name: "Concurrency: many buddies book one trip", Run: concurrentBook},
		{Name: "Trip: buddy cannot accept", Run: func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return Result{Status: statusSkip, Note: "no booking"}
			}
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/accept", r.winner, nil)
			return expect(code, latency, err, http.StatusForbidden)
		}},
		{Name: "Trip: accept, start, finish", Run: runLifecycle},
		{Name: "Trip: finished cannot cancel", Run: func(ctx context.Context, r *Runner) Result {
			if r.tripID == "" {
				return Result{Status: statusSkip, Note: "no trip"}
			}
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/cancel", r.pilot, nil)
			return expect(code, latency, err, http.StatusConflict)
		}},
		{Name: "Rating: buddy rates once", Run: rateOnce},
		{Name: "Perf: search throughput", Run: searchLoad},
	}
}

// call sends body as JSON with a dev bearer token for uid (none when uid is empty).
func (r *Runner) call(ctx context.Context, method, path, uid string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+uid)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), err
}

func expect(code int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", code, want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
}

func createTrip(ctx context.Context, r *Runner) Result {
	code, body, latency, err := r.call(ctx, http.MethodPost, "/api/trips", r.pilot, map[string]any{
		"source":       "Coimbatore",
		"destination":  "Pollachi",
		"scheduled_at": r.scheduled,
		"source_point": map[string]float64{"lat": 11.0168, "lng": 76.9558},
		"dest_point":   map[string]float64{"lat": 10.6609, "lng": 77.0048},
		"distance_km":  40,
		"pilot":        map[string]string{"name": "Bench Pilot"},
	})
	res := expect(code, latency, err, http.StatusCreated)
	if res.Status != statusPass {
		return res
	}
	var created struct {
		ID       string  `json:"id"`
		BaseFare float64 `json:"base_fare"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return Result{Status: statusFail, Note: "no trip id in response"}
	}
	r.tripID = created.ID
	res.Note = fmt.Sprintf("trip=%s base_fare=%.2f", created.ID, created.BaseFare)
	return res
}

func searchExact(ctx context.Context, r *Runner) Result {
	if r.tripID == "" {
		return Result{Status: statusSkip, Note: "no trip"}
	}
	code, body, latency, err := r.call(ctx, http.MethodPost, "/api/trips/search", "benchbuddy", searchBody(r.scheduled))
	res := expect(code, latency, err, http.StatusOK)
	if res.Status != statusPass {
		return res
	}
	var found struct {
		Results []struct {
			Trip struct {
				ID string `json:"id"`
			} `json:"trip"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &found); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, c := range found.Results {
		if c.Trip.ID == r.tripID {
			res.Note = fmt.Sprintf("results=%d", len(found.Results))
			return res
		}
	}
	return Result{Status: statusFail, Latency: latency, Note: "published trip not in results"}
}

func searchBody(at time.Time) map[string]any {
	return map[string]any{
		"mode":        "exact",
		"source":      "coimbatore",
		"destination": "pollachi",
		"time":        at.Add(15 * time.Minute),
	}
}

// concurrentBook races cfg.Concurrency buddies; exactly one may win.
func concurrentBook(ctx context.Context, r *Runner) Result {
	if r.tripID == "" {
		return Result{Status: statusSkip, Note: "no trip"}
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		other   []int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buddy := fmt.Sprintf("benchbuddy%d", i)
			code, _, _, err := r.call(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/book", buddy, map[string]any{
				"buddy": map[string]string{"name": buddy},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, 0)
			case code == http.StatusCreated:
				winners = append(winners, buddy)
			case code != http.StatusConflict:
				other = append(other, code)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 || len(other) > 0 {
		sort.Ints(other)
		return Result{Status: statusFail, Note: fmt.Sprintf("winners=%d unexpected=%v", len(winners), other)}
	}
	r.winner = winners[0]
	return Result{Status: statusPass, Note: "winner=" + r.winner}
}

func runLifecycle(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: statusSkip, Note: "no booking"}
	}
	var total time.Duration
	for _, step := range []string{"accept", "start", "finish"} {
		code, _, latency, err := r.call(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/"+step, r.pilot, nil)
		res := expect(code, latency, err, http.StatusOK)
		if res.Status != statusPass {
			res.Note = step + ": " + res.Note
			return res
		}
		total += latency
	}
	return Result{Status: statusPass, Latency: total}
}

func rateOnce(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: statusSkip, Note: "no booking"}
	}
	code, body, _, err := r.call(ctx, http.MethodGet, "/api/me/rating-events", r.winner, nil)
	if res := expect(code, 0, err, http.StatusOK); res.Status != statusPass {
		return res
	}
	var pending struct {
		Events []struct {
			ID     string `json:"id"`
			TripID string `json:"trip_id"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &pending); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	eventID := ""
	for _, e := range pending.Events {
		if e.TripID == r.tripID {
			eventID = e.ID
		}
	}
	if eventID == "" {
		return Result{Status: statusFail, Note: "no rating trigger for finished trip"}
	}
	rate := map[string]any{"event_id": eventID, "score": 5, "comment": "bench"}
	code, _, latency, err := r.call(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/ratings", r.winner, rate)
	if res := expect(code, latency, err, http.StatusCreated); res.Status != statusPass {
		return res
	}
	code, _, latency, err = r.call(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/ratings", r.winner, rate)
	res := expect(code, latency, err, http.StatusConflict)
	if res.Status == statusPass {
		res.Note = "second submit rejected"
	}
	return res
}

func searchLoad(ctx context.Context, r *Runner) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		count     int
		errCount  int
		latencies []time.Duration
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, latency, err := r.call(ctx, http.MethodPost, "/api/trips/search", "benchbuddy", searchBody(r.scheduled))
				mu.Lock()
				if err != nil || code != http.StatusOK {
					errCount++
				} else {
					count++
					latencies = append(latencies, latency)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := latencies[len(latencies)*95/100]
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f p95=%s errors=%d", rps, p95, errCount)}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "dsn not set"}
	}
	tables, err := extractTables(r.cfg.MigrationsDir)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
}

var createTableRe = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

func extractTables(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTableRe.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
