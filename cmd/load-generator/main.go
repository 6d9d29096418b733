package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/env"
	"github.com/syncteam/project/internal/platform/httpx"
	"github.com/syncteam/project/internal/platform/logger"
	"github.com/syncteam/project/internal/platform/metrics"
)

// The load generator drives the member/project saga end to end. Virtual
// users own one project each and keep adding members, creating and updating
// tasks, and now and then ask to join a project that does not exist so the
// rollback path carries traffic too.

type config struct {
	MemberBase              string
	ProjectBase             string
	JWTSecret               string
	Users                   int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerUserPerSecond float64
	MissingProjectRatio     float64
	RequestTimeout          time.Duration
	MetricsAddr             string
	LogMode                 string
	LogLevel                string
}

type simulatedUser struct {
	Index     int
	UserID    int64
	Token     string
	ProjectID int64

	mu    sync.Mutex
	tasks []int64
}

type runner struct {
	cfg    config
	log    *logger.Logger
	client *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeVUs       atomic.Int64
}

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "loadgen_requests_total",
		Help: "HTTP requests sent by the load generator.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "loadgen_actions_total",
		Help: "Saga actions executed by the load generator.",
	}, []string{"action", "outcome"})
)

func main() {
	cfg := loadConfig()
	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		stdlog.Fatal(err)
	}
	defer log.Sync()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	r := &runner{
		cfg: cfg,
		log: log.With("component", "load-generator"),
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Users * 4,
				MaxIdleConnsPerHost: cfg.Users * 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	metrics.Default.MustRegister(requestsTotal, actionsTotal, metrics.NewGaugeFunc(metrics.Opts{
		Name: "loadgen_virtual_users",
		Help: "Virtual users currently sending actions.",
	}, func() float64 { return float64(r.activeVUs.Load()) }))
	go r.runMetricsServer(ctx)

	if err := r.waitForDependencies(ctx); err != nil {
		log.Fatal("dependency readiness failed", "error", err)
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		log.Fatal("failed to initialize any users")
	}
	r.log.Info("load generator initialized",
		"users", len(users),
		"duration", cfg.Duration.String(),
		"rate_per_user", cfg.ActionsPerUserPerSecond,
	)
	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}
	<-ctx.Done()
	wg.Wait()

	r.log.Info("load test complete",
		"success_requests", r.requestsSuccess.Load(),
		"error_requests", r.requestsError.Load(),
	)
}

func loadConfig() config {
	return config{
		MemberBase:              strings.TrimRight(env.String("LOADGEN_MEMBER_BASE", "http://member-service:8080"), "/"),
		ProjectBase:             strings.TrimRight(env.String("LOADGEN_PROJECT_BASE", "http://project-service:8081"), "/"),
		JWTSecret:               env.String("JWT_SECRET", "dev-insecure-change-me"),
		Users:                   env.Int("LOADGEN_USERS", 50),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 10*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		ActionsPerUserPerSecond: floatEnv("LOADGEN_ACTIONS_PER_USER_PER_SECOND", 0.5),
		MissingProjectRatio:     floatEnv("LOADGEN_MISSING_PROJECT_RATIO", 0.1),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
		LogMode:                 env.String("LOG_MODE", "development"),
		LogLevel:                env.String("LOG_LEVEL", "info"),
	}
}

func (r *runner) waitForDependencies(ctx context.Context) error {
	for _, base := range []string{r.cfg.MemberBase, r.cfg.ProjectBase} {
		if err := r.waitForReady(ctx, base+"/readyz", r.cfg.StartupWait); err != nil {
			return fmt.Errorf("%s not ready: %w", base, err)
		}
	}
	return nil
}

func (r *runner) waitForReady(ctx context.Context, requestURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	lastErr := errors.New("timeout")
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1200 * time.Millisecond):
		}
	}
	return lastErr
}

func (r *runner) setupUsers(ctx context.Context) []*simulatedUser {
	tokens := auth.NewManager(r.cfg.JWTSecret, 24*time.Hour)
	runID := time.Now().UTC().Unix() % 100000
	users := make([]*simulatedUser, 0, r.cfg.Users)
	for i := 0; i < r.cfg.Users; i++ {
		user := &simulatedUser{Index: i, UserID: runID*100000 + int64(i) + 1}
		token, err := tokens.Sign(user.UserID, "load-"+strconv.FormatInt(user.UserID, 10))
		if err != nil {
			r.log.Warn("sign token failed", "error", err)
			continue
		}
		user.Token = token

		var created struct {
			ID int64 `json:"id"`
		}
		if _, err := r.requestJSON(ctx, user, "create_project", http.MethodPost, r.cfg.ProjectBase+"/api/v1/projects", map[string]any{
			"title": fmt.Sprintf("Load Project %d", user.UserID),
		}, &created, http.StatusCreated); err != nil {
			r.log.Warn("user setup failed", "user_id", user.UserID, "error", err)
			continue
		}
		user.ProjectID = created.ID
		users = append(users, user)
	}
	for _, user := range users {
		r.awaitCreatorMapping(ctx, user)
	}
	return users
}

// awaitCreatorMapping waits until the member service lists the user's own
// project. The command gateway refuses project commands before that.
func (r *runner) awaitCreatorMapping(ctx context.Context, user *simulatedUser) {
	lookup := fmt.Sprintf("%s/api/v1/members?user_ids=%d", r.cfg.MemberBase, user.UserID)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var resp struct {
			Memberships []struct {
				ProjectID int64 `json:"project_id"`
			} `json:"memberships"`
		}
		if _, err := r.requestJSON(ctx, user, "await_creator", http.MethodGet, lookup, nil, &resp, http.StatusOK); err == nil {
			for _, m := range resp.Memberships {
				if m.ProjectID == user.ProjectID {
					return
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	r.log.Warn("creator mapping not visible yet", "user_id", user.UserID, "project_id", user.ProjectID)
}

func (r *runner) runUser(ctx context.Context, user *simulatedUser) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(max(r.cfg.Users, 1)) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r.activeVUs.Add(1)
	defer r.activeVUs.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.ActionsPerUserPerSecond), 25*time.Millisecond)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, user, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	choice := rng.Float64()
	switch {
	case choice < r.cfg.MissingProjectRatio:
		// far outside any id the project service hands out
		r.addMember(ctx, user, "add_member_missing", 1<<40+rng.Int63n(1<<20), rng)
	case choice < 0.4:
		r.addMember(ctx, user, "add_member", user.ProjectID, rng)
	case choice < 0.55:
		r.command(ctx, user, "create_task", http.MethodPost, "/api/v1/commands/tasks", map[string]any{
			"project_id": user.ProjectID,
			"title":      fmt.Sprintf("Load Task %d", rng.Intn(1_000_000)),
		})
	default:
		taskID, ok := user.randomTask(rng)
		if !ok {
			r.createTask(ctx, user, rng)
			return
		}
		r.command(ctx, user, "update_task", http.MethodPut, "/api/v1/commands/tasks/"+strconv.FormatInt(taskID, 10), map[string]any{
			"title":  fmt.Sprintf("Updated Task %d", rng.Intn(1_000_000)),
			"status": []string{"TODO", "IN_PROGRESS", "DONE"}[rng.Intn(3)],
		})
	}
}

func (r *runner) addMember(ctx context.Context, user *simulatedUser, action string, projectID int64, rng *rand.Rand) {
	_, err := r.requestJSON(ctx, user, action, http.MethodPost, r.cfg.MemberBase+"/api/v1/members/project", map[string]any{
		"project_id": projectID,
		"user_ids":   []int64{1 + rng.Int63n(1_000_000)},
	}, nil, http.StatusAccepted, http.StatusConflict)
	r.countAction(action, err)
}

func (r *runner) command(ctx context.Context, user *simulatedUser, action, method, path string, payload any) {
	_, err := r.requestJSON(ctx, user, action, method, r.cfg.MemberBase+path, payload, nil, http.StatusAccepted)
	r.countAction(action, err)
}

func (r *runner) createTask(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	var created struct {
		ID int64 `json:"id"`
	}
	_, err := r.requestJSON(ctx, user, "create_task_sync", http.MethodPost, r.cfg.ProjectBase+"/api/v1/tasks", map[string]any{
		"project_id": user.ProjectID,
		"title":      fmt.Sprintf("Load Task %d", rng.Intn(1_000_000)),
	}, &created, http.StatusCreated)
	r.countAction("create_task_sync", err)
	if err == nil && created.ID > 0 {
		user.mu.Lock()
		user.tasks = append(user.tasks, created.ID)
		user.mu.Unlock()
	}
}

func (u *simulatedUser) randomTask(rng *rand.Rand) (int64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.tasks) == 0 {
		return 0, false
	}
	return u.tasks[rng.Intn(len(u.tasks))], true
}

func (r *runner) countAction(action string, err error) {
	if err != nil {
		actionsTotal.WithLabelValues(action, "error").Inc()
		return
	}
	actionsTotal.WithLabelValues(action, "success").Inc()
}

func (r *runner) requestJSON(ctx context.Context, user *simulatedUser, endpoint, method, requestURL string, payload, out any, expectedStatuses ...int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+user.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()
	responseBody, err := io.ReadAll(resp.Body)
	statusText := strconv.Itoa(resp.StatusCode)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, err
	}

	for _, expected := range expectedStatuses {
		if resp.StatusCode != expected {
			continue
		}
		requestsTotal.WithLabelValues(endpoint, method, statusText, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}
	requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
	r.requestsError.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.log.Info("progress",
				"success_requests", r.requestsSuccess.Load(),
				"error_requests", r.requestsError.Load(),
				"active_vus", r.activeVUs.Load(),
			)
		}
	}
}

func (r *runner) runMetricsServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	r.log.Info("metrics endpoint listening", "addr", r.cfg.MetricsAddr)
	if err := httpx.Serve(ctx, httpx.NewServer(r.cfg.MetricsAddr, mux), 5*time.Second); err != nil {
		r.log.Warn("metrics server failed", "error", err)
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

func floatEnv(key string, fallback float64) float64 {
	raw := env.String(key, "")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
