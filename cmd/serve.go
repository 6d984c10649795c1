package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kidsclubplans/kcp/internal/config"
	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/metrics"
	"github.com/kidsclubplans/kcp/internal/safety"
	"github.com/kidsclubplans/kcp/internal/signal"
)

const (
	serviceName      = "kidsclubplans-conversational-api"
	sessionCookie    = "kcp_sid"
	sessionCookieAge = 30 * 24 * time.Hour
	maxBodyBytes     = 10 << 20

	// weatherCacheMaxAge bounds cache rows kept across restarts.
	weatherCacheMaxAge = 24 * time.Hour
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the planning assistant HTTP API",
	Long: `Run the KidsClubPlans HTTP API.

Chat answers stream as server-sent events on POST /chat. Other endpoints
cover activity search and saving, profiles, conversation history, weather,
day schedules, weekly plans and voice transcription.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		metrics.Incr(metrics.StartupErrors)
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		if servePort < 0 || servePort > 65535 {
			return fmt.Errorf("invalid --port %d (must be 1-65535)", servePort)
		}
		cfg.Server.Port = servePort
	}

	logger := slog.Default()
	a, err := newApp(cfg, logger)
	if err != nil {
		metrics.Incr(metrics.StartupErrors)
		return err
	}
	defer a.Close()

	if n, err := a.store.ClearWeatherOlderThan(ctx, weatherCacheMaxAge); err != nil {
		logger.Warn("prune weather cache", "error", err)
	} else if n > 0 {
		logger.Info("pruned weather cache", "entries", n)
	}

	s := newServeServer(a)
	if err := s.Start(); err != nil {
		return err
	}
	logger.Info("kcp serve listening",
		"addr", "http://"+cfg.Addr(),
		"provider", cfg.LLM.Provider,
		"llm_configured", a.chat.Configured(),
		"semantic_search", a.vectors.Semantic(),
		"environment", cfg.Environment)

	<-ctx.Done()
	logger.Info("shutting down")
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}

type serveServer struct {
	app      *app
	cfg      *config.Config
	logger   *slog.Logger
	validate *validator.Validate
	server   *http.Server
}

func newServeServer(a *app) *serveServer {
	return &serveServer{
		app:      a,
		cfg:      a.cfg,
		logger:   a.logger,
		validate: validator.New(),
	}
}

// handler returns the routed and wrapped API handler.
func (s *serveServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("GET /metrics/prometheus", s.app.metrics.Handler())

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /conversations/{id}/history", s.handleConversationHistory)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleConversationClear)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)

	mux.HandleFunc("POST /activities/search", s.handleActivitySearch)
	mux.HandleFunc("POST /api/activities/search", s.handleActivityBrowse)
	mux.HandleFunc("POST /api/activities/save", s.handleActivitySave)

	mux.HandleFunc("GET /api/profile", s.handleProfileGet)
	mux.HandleFunc("POST /api/profile", s.handleProfileUpdate)
	mux.HandleFunc("GET /api/profile/stats", s.handleProfileStats)

	mux.HandleFunc("POST /api/weather", s.handleWeather)

	mux.HandleFunc("POST /api/schedule/generate", s.handleScheduleGenerate)
	mux.HandleFunc("POST /api/schedule/save", s.handleScheduleSave)
	mux.HandleFunc("GET /api/schedule/{id}", s.handleScheduleGet)
	mux.HandleFunc("DELETE /api/schedule/{id}", s.handleScheduleDelete)
	mux.HandleFunc("GET /api/schedules", s.handleScheduleList)

	mux.HandleFunc("POST /api/schedules/weekly/save", s.handleWeeklySave)
	mux.HandleFunc("POST /api/schedules/weekly/duplicate", s.handleWeeklyDuplicate)
	mux.HandleFunc("GET /api/schedules/weekly/{week}", s.handleWeeklyGet)

	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)

	return s.requestID(s.accessLog(s.recoverer(s.cors(mux))))
}

func (s *serveServer) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *serveServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
)

// requestID tags each request with X-Request-Id, reusing the client's value
// when present, and attaches a request scoped logger.
func (s *serveServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = context.WithValue(ctx, loggerKey, s.logger.With("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger returns the logger attached by requestID.
func (s *serveServer) requestLogger(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

// statusRecorder captures the status code and keeps streaming working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *serveServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.app.metrics.Incr(metrics.HTTPRequests)
		if rec.status >= 500 {
			s.app.metrics.Incr(metrics.HTTPErrors)
		}
		s.requestLogger(r).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// recoverer turns handler panics into a classified 500.
func (s *serveServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if rv == http.ErrAbortHandler {
				panic(rv)
			}
			err, ok := rv.(error)
			if !ok {
				err = fmt.Errorf("%v", rv)
			}
			kind := llm.ClassifyError(err)
			s.app.metrics.Incr(metrics.UnhandledPanics)
			s.app.metrics.Incr(metrics.ErrorType(string(kind)))
			s.requestLogger(r).Error("unhandled panic", "error_type", kind, "error", err, "stack", string(debug.Stack()))
			writeError(w, http.StatusInternalServerError, string(kind), "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *serveServer) cors(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(s.cfg.Server.CORSOrigins))
	allowAll := false
	for _, origin := range s.cfg.Server.CORSOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if allowAll || ok {
				// Credentialed requests need the concrete origin, never "*".
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionUser returns the trusted user id from the kcp_sid cookie, issuing a
// new one when the request has none.
func (s *serveServer) sessionUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if c, err := r.Cookie(sessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return c.Value, false
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieAge / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	return id, true
}

// rateLimited reports whether key is over limit, writing the 429 if so.
func (s *serveServer) rateLimited(w http.ResponseWriter, r *http.Request, limiter *safety.RateLimiter, key, event string) bool {
	ok, retryAfter := limiter.Allow(key)
	if ok {
		return false
	}
	s.app.metrics.Incr(metrics.RateLimitedRequests)
	s.requestLogger(r).Warn(event, "user_id", key, "retry_after", retryAfter)
	w.Header().Set("Retry-After", fmt.Sprint(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate_limited", fmt.Sprintf("Rate limit exceeded. Retry in %ds", retryAfter))
	return true
}

// decodeBody decodes and validates a JSON request body. On failure it writes
// the 4xx response and returns false.
func (s *serveServer) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "validation", err.Error())
		return false
	}
	if err := decodeJSONBody(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func writeError(w http.ResponseWriter, status int, errorType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"type":    errorType,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}
