package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/pipeline"
	"github.com/khaledhikmat/asd-go/registry"
	"github.com/khaledhikmat/asd-go/service/chat"
	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

// Server exposes the prediction pipeline over HTTP
type Server struct {
	CfgSvc     config.IService
	ChatSvc    chat.IService
	Policy     registry.Policy
	Predictor  *pipeline.Predictor
	Aggregator *pipeline.Aggregator
	Analyzer   *pipeline.Analyzer

	// Prediction records go to the stats stream; failures to the error stream
	StatsStream chan interface{}
	ErrorStream chan interface{}

	started  time.Time
	requests atomic.Int64
	failures atomic.Int64
}

func New(cfgSvc config.IService,
	chatSvc chat.IService,
	policy registry.Policy,
	predictor *pipeline.Predictor,
	aggregator *pipeline.Aggregator,
	analyzer *pipeline.Analyzer,
	statsStream chan interface{},
	errorStream chan interface{}) *Server {
	return &Server{
		CfgSvc:      cfgSvc,
		ChatSvc:     chatSvc,
		Policy:      policy,
		Predictor:   predictor,
		Aggregator:  aggregator,
		Analyzer:    analyzer,
		StatsStream: statsStream,
		ErrorStream: errorStream,
		started:     time.Now(),
	}
}

// Handler returns the routed handler wrapped with request tracking and CORS
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/health", s.health)
	router.POST("/predict", s.predict)
	router.POST("/predict/summary", s.predictSummary)
	router.POST("/api/chat", s.chat)
	router.POST("/analyze_video", s.analyzeVideo)

	router.HandleMethodNotAllowed = true
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		lgr.Logger.ErrorContext(r.Context(), "handler panic", slog.Any("panic", v))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.CfgSvc.GetCorsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         600,
	})

	return c.Handler(s.track(router))
}

// Stats reports request counters since the server was created
func (s *Server) Stats() model.ServerStats {
	uptime := time.Since(s.started)
	requests := s.requests.Load()

	stats := model.ServerStats{
		TotalRequests: requests,
		TotalFailures: s.failures.Load(),
		Uptime:        int64(uptime.Seconds()),
	}
	if minutes := uptime.Minutes(); minutes > 0 {
		stats.AvgRequestsPerM = float64(requests) / minutes
	}
	return stats
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lgr.Logger.Error("encode response", lgr.Err(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// errorStatus maps client input failures to 400 and everything else to 500
func errorStatus(err error) int {
	if model.IsClientError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
