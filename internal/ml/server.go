package ml

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"device-classifier/internal/common"
	"device-classifier/internal/features"
	"device-classifier/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultHistoryLimit   = 20
	maxHistoryLimit       = 1000
)

type contextKey string

const requestIDKey contextKey = "request_id"

// HistoryStore persists served predictions.
type HistoryStore interface {
	SavePrediction(record storage.PredictionRecord) error
	RecentPredictions(limit int) ([]storage.PredictionRecord, error)
	PredictionsInRange(start, end time.Time) ([]storage.PredictionRecord, error)
}

// ServerConfig holds the HTTP settings of a ModelServer.
type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
	// History is optional.
	History HistoryStore
}

// ModelServer provides HTTP API for model predictions
type ModelServer struct {
	predictor PredictorInterface
	config    ServerConfig
	router    *mux.Router
	server    *http.Server
	upgrader  websocket.Upgrader
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// NewModelServer creates a new HTTP server for model serving
func NewModelServer(predictor PredictorInterface, config ServerConfig) *ModelServer {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = common.DefaultMaxBodyBytes
	}
	if config.MetricsHandler == nil {
		config.MetricsHandler = promhttp.Handler()
	}

	ms := &ModelServer{
		predictor: predictor,
		config:    config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	r := mux.NewRouter()
	r.Use(recovery, requestID, requestLogging)

	r.HandleFunc("/", ms.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/predict", ms.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/predict/{policy}", ms.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/health", ms.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", ms.handleModelInfo).Methods(http.MethodGet)
	r.HandleFunc("/model/features", ms.handleFeatureStats).Methods(http.MethodGet)
	r.Handle("/metrics", config.MetricsHandler).Methods(http.MethodGet)
	r.HandleFunc("/predictions", ms.handlePredictions).Methods(http.MethodGet)
	r.HandleFunc("/ws/predict", ms.handleWebSocket).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	ms.router = r
	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: config.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler returns the routed handler, for embedding and tests.
func (ms *ModelServer) Handler() http.Handler {
	return ms.router
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": common.RootMessage})
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	var policy features.Policy
	if name, ok := mux.Vars(r)["policy"]; ok {
		p, err := features.ParsePolicy(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "UNKNOWN_POLICY", err.Error())
			return
		}
		policy = p
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ms.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("read body: %v", err))
		return
	}

	result, err := ms.predict(r.Context(), requestIDFrom(r), policy, body)
	if err != nil {
		resp := MapError(err)
		writeError(w, resp.StatusCode, resp.Code, resp.Message)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// predict runs one prediction under the request timeout and records it in the
// history store when one is configured.
func (ms *ModelServer) predict(ctx context.Context, reqID string, policy features.Policy, body []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, ms.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := ms.predictor.Predict(ctx, policy, body)
	if err != nil {
		event := log.Warn()
		if Kind(err) == KindInternal {
			event = log.Error()
		}
		event.Err(err).Str("request_id", reqID).Str("kind", string(Kind(err))).Msg("prediction failed")
		return nil, err
	}

	ms.record(reqID, result, time.Since(start))
	return result, nil
}

func (ms *ModelServer) record(reqID string, result *Result, latency time.Duration) {
	if ms.config.History == nil {
		return
	}

	input, err := json.Marshal(result.Input)
	if err != nil {
		input = nil
	}
	record := storage.PredictionRecord{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Policy:     string(result.Policy),
		Input:      input,
		Prediction: result.Prediction,
		Label:      result.Label,
		LatencyMs:  float64(latency.Microseconds()) / 1000,
	}
	if err := ms.config.History.SavePrediction(record); err != nil {
		log.Warn().Err(err).Str("request_id", reqID).Msg("failed to store prediction")
	}
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := ms.predictor.Health()

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := ms.predictor.Info()
	if err != nil {
		resp := MapError(err)
		writeError(w, resp.StatusCode, resp.Code, resp.Message)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (ms *ModelServer) handleFeatureStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ms.predictor.FeatureStats()
	if err != nil {
		resp := MapError(err)
		writeError(w, resp.StatusCode, resp.Code, resp.Message)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (ms *ModelServer) handlePredictions(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("limit must be an integer between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	since, until, ranged, err := parseHistoryRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	records := []storage.PredictionRecord{}
	if ms.config.History != nil {
		var found []storage.PredictionRecord
		if ranged {
			found, err = ms.config.History.PredictionsInRange(since, until)
			if len(found) > limit {
				found = found[:limit]
			}
		} else {
			found, err = ms.config.History.RecentPredictions(limit)
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to read prediction history")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read prediction history")
			return
		}
		records = append(records, found...)
	}
	writeJSON(w, http.StatusOK, records)
}

// parseHistoryRange reads the optional RFC 3339 since/until bounds. A missing
// since starts at the Unix epoch and a missing until ends now.
func parseHistoryRange(r *http.Request) (since, until time.Time, ranged bool, err error) {
	query := r.URL.Query()
	rawSince, rawUntil := query.Get("since"), query.Get("until")
	if rawSince == "" && rawUntil == "" {
		return time.Time{}, time.Time{}, false, nil
	}

	since = time.Unix(0, 0).UTC()
	until = time.Now().UTC()
	if rawSince != "" {
		if since, err = time.Parse(time.RFC3339, rawSince); err != nil {
			return since, until, false, fmt.Errorf("since must be an RFC 3339 timestamp")
		}
	}
	if rawUntil != "" {
		if until, err = time.Parse(time.RFC3339, rawUntil); err != nil {
			return since, until, false, fmt.Errorf("until must be an RFC 3339 timestamp")
		}
	}
	if until.Before(since) {
		return since, until, false, fmt.Errorf("until must not be before since")
	}
	return since, until, true, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return r.Header.Get(common.HeaderRequestID)
}

// requestID ensures every request carries an X-Request-ID and echoes it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(common.HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		w.Header().Set(common.HeaderRequestID, reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("request_id", requestIDFrom(r)).
			Msg("http request")
	})
}

// recovery turns a handler panic into a 500 envelope, unless the handler has
// already started its response.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Str("path", r.URL.Path).Bool("response_started", rec.wroteHeader).Msg("panic recovered")
				if !rec.wroteHeader {
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				}
			}
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	s.wroteHeader = true
	return h.Hijack()
}
