package gate

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBodyBytes     = 1 << 20
)

type Server struct {
	gate    *Gate
	live    http.Handler
	metrics http.Handler
	keys    [][]byte
	obs     ports.Observability
}

func NewServer(g *Gate, live, metrics http.Handler, apiKeys []string, obs ports.Observability) *Server {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		keys = append(keys, []byte(k))
	}
	return &Server{gate: g, live: live, metrics: metrics, keys: keys, obs: obs}
}

// Router wires every endpoint; access logging and panic recovery wrap the
// whole tree.
func (s *Server) Router(accessLog io.Writer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	if s.live != nil {
		r.Handle("/ws", s.live)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireKey)
	api.HandleFunc("/ingest", s.ingest).Methods(http.MethodPost)
	api.HandleFunc("/readings", s.listReadings).Methods(http.MethodGet)
	api.HandleFunc("/readings/{sensor_id}/latest", s.latestReading).Methods(http.MethodGet)

	var h http.Handler = r
	if accessLog != nil {
		h = handlers.LoggingHandler(accessLog, h)
	}
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
}

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("X-API-Key"))
		for _, k := range s.keys {
			if len(got) > 0 && subtle.ConstantTimeCompare(got, k) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeDetail(w, http.StatusUnauthorized, "invalid API key")
	})
}

type ingestResponse struct {
	Status    string           `json:"status"`
	ReadingID domain.ReadingID `json:"reading_id"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var reading domain.Reading
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&reading); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed reading: "+err.Error())
		return
	}

	a, err := s.gate.Ingest(r.Context(), reading)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ingestResponse{Status: "ok", ReadingID: a.ID})
	case errors.Is(err, ports.ErrDuplicate):
		writeDetail(w, http.StatusConflict, "Duplicate reading")
	case errors.Is(err, ErrUnknownSensor):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDiscard):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		s.obs.LogError("ingest failed", err, ports.F("device", reading.DeviceAddress))
		writeDetail(w, http.StatusInternalServerError, "ingest failed")
	}
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		writeDetail(w, http.StatusBadRequest, "sensor_id is required")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeDetail(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	list, err := s.gate.Recent(r.Context(), sensorID, limit)
	if err != nil {
		s.obs.LogError("list readings failed", err, ports.F("sensor", sensorID))
		writeDetail(w, http.StatusInternalServerError, "query failed")
		return
	}
	if list == nil {
		list = []domain.AcceptedReading{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) latestReading(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensor_id"]
	a, err := s.gate.Latest(r.Context(), sensorID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a)
	case errors.Is(err, ports.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "No readings found")
	default:
		s.obs.LogError("latest reading failed", err, ports.F("sensor", sensorID))
		writeDetail(w, http.StatusInternalServerError, "query failed")
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.gate.live.SessionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
