package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Status: состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check: результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент. Реализация должна уважать ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler обслуживает /healthz и /readyz.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
	timeout   time.Duration
}

// HandlerOption настраивает Handler.
type HandlerOption func(*Handler)

// WithCheckTimeout ограничивает общее время одного прогона проверок.
func WithCheckTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

func NewHandler(version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
		timeout:   defaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterChecker регистрирует проверку под именем name; повторная
// регистрация заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// run выполняет все проверки параллельно с общим таймаутом.
func (h *Handler) run(ctx context.Context) map[string]Check {
	h.mu.RLock()
	names := lo.Keys(h.checkers)
	sort.Strings(names)
	checkers := lo.Map(names, func(name string, _ int) Checker { return h.checkers[name] })
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]Check, len(names))
	var g errgroup.Group
	for i, checker := range checkers {
		g.Go(func() error {
			results[i] = checker.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return lo.SliceToMap(lo.Range(len(names)), func(i int) (string, Check) {
		return names[i], results[i]
	})
}

// overall: упавшая критичная проверка делает сервис unhealthy, некритичная даёт degraded.
func overall(checks map[string]Check) Status {
	status := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case StatusUnhealthy:
			if c.Critical {
				return StatusUnhealthy
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := h.run(r.Context())
	status := overall(checks)

	response := Response{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler готов, пока ни одна критичная проверка не упала.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if overall(h.run(r.Context())) == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// PingChecker оборачивает функцию проверки.
type PingChecker struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

// NewPingChecker создаёт критичную проверку: её отказ переводит сервис в unhealthy.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, critical: true, ping: ping}
}

// NewOptionalChecker создаёт некритичную проверку: её отказ даёт degraded.
func NewOptionalChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.ping(ctx)

	result := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		Critical:   c.critical,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}
