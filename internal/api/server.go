package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/session"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/store"
)

const shutdownTimeout = 5 * time.Second

// SessionService is what the API needs from the session controller
type SessionService interface {
	Start()
	Stop(ctx context.Context) (store.Snapshot, bool)
	Data() session.DataView
	Persisted(ctx context.Context) (store.Snapshot, error)
}

// TelemetrySource is what the API needs from the pipeline
type TelemetrySource interface {
	Snapshot() erg.TelemetryState
	DroppedSamples() uint64
	ListenToTelemetry(ch chan<- erg.TelemetryState) func()
}

// Simulator is the control surface of the simulated erg
type Simulator interface {
	State() bt.SimState
	WrittenValues() []bt.WrittenValue
	Set(watts uint16, strokeRate float64)
	SetOnline(online bool)
	DropLink()
}

type Server struct {
	session   SessionService
	telemetry TelemetrySource
	sim       Simulator
	logger    *log.Logger
	accessLog io.Writer
	router    *mux.Router
}

type NewServerArg struct {
	Session   SessionService
	Telemetry TelemetrySource
	Sim       Simulator // nil unless running against the simulated erg
	Logger    *log.Logger
	AccessLog io.Writer
}

func NewServer(arg NewServerArg) *Server {
	if arg.Session == nil {
		panic("Server: session cannot be nil")
	}
	if arg.Telemetry == nil {
		panic("Server: telemetry cannot be nil")
	}
	if arg.Logger == nil {
		panic("Server: logger cannot be nil")
	}
	if arg.AccessLog == nil {
		arg.AccessLog = io.Discard
	}
	s := &Server{
		session:   arg.Session,
		telemetry: arg.Telemetry,
		sim:       arg.Sim,
		logger:    arg.Logger,
		accessLog: arg.AccessLog,
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/data", s.handleData).Methods(http.MethodGet)
	r.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	if s.sim != nil {
		r.HandleFunc("/sim", s.handleSimState).Methods(http.MethodGet)
		r.HandleFunc("/sim", s.handleSimSet).Methods(http.MethodPost)
	}
	return r
}

// Handler returns the router wrapped with access logging and permissive CORS for the kiosk front end
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return cors(handlers.LoggingHandler(s.accessLog, s.router))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go_func_utils.SafeGo(s.logger, "http-server", func() {
		s.logger.Printf("Server: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Println("Server: stopped")
	return nil
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Phase          string `json:"phase"`
	Connected      bool   `json:"connected"`
	SessionActive  bool   `json:"session_active"`
	DroppedSamples uint64 `json:"dropped_samples"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Welcome to the Concept2 BikeErg Real-Time API"})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Data())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.session.Start()
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Session started."})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session.Stop(r.Context()); !ok {
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "No active session."})
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Session stopped."})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Persisted(r.Context())
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load snapshot"})
	default:
		s.writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.telemetry.Snapshot()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Phase:          state.Phase,
		Connected:      state.Connected,
		SessionActive:  state.SessionActive,
		DroppedSamples: s.telemetry.DroppedSamples(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Printf("Server: error encoding response: %v", err)
	}
}
