package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adaptiveheat/zoneheat/internal/ports"
	"github.com/adaptiveheat/zoneheat/internal/zone"
)

type Server struct {
	zones map[string]ports.ZoneService
	srv   *http.Server
}

// New returns a runnable server over the given zones. A nil registry
// disables the /metrics endpoint.
func New(zones []ports.ZoneService, addr string, reg *prometheus.Registry) *Server {
	s := &Server{zones: make(map[string]ports.ZoneService, len(zones))}
	for _, z := range zones {
		s.zones[z.ID()] = z
	}

	r := mux.NewRouter()

	// Read
	r.HandleFunc("/v1/zones", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/zones/{id}", s.handleGet).Methods(http.MethodGet)

	// Write: one endpoint per variable
	r.HandleFunc("/v1/zones/{id}/target", s.handlePostTarget).Methods(http.MethodPost)
	r.HandleFunc("/v1/zones/{id}/mode", s.handlePostMode).Methods(http.MethodPost)
	r.HandleFunc("/v1/zones/{id}/preset", s.handlePostPreset).Methods(http.MethodPost)
	r.HandleFunc("/v1/zones/{id}/calibrate", s.handlePostCalibrate).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           handlers.CombinedLoggingHandler(os.Stdout, handlers.RecoveryHandler()(r)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- Handlers ----

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	ids := make([]string, 0, len(s.zones))
	for id := range s.zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]zone.Status, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.zones[id].Status())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.zoneFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, svc.Status())
}

func (s *Server) handlePostTarget(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.zoneFor(w, r)
	if !ok {
		return
	}
	postValue(w, r, svc, func(v float64) error {
		return svc.SetTarget(v)
	})
}

func (s *Server) handlePostMode(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.zoneFor(w, r)
	if !ok {
		return
	}
	// body: {"value": "heat"}
	postValue(w, r, svc, func(v string) error {
		m, err := zone.ParseMode(v)
		if err != nil {
			return err
		}
		return svc.SetMode(m)
	})
}

func (s *Server) handlePostPreset(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.zoneFor(w, r)
	if !ok {
		return
	}
	// body: {"value": "home"}
	postValue(w, r, svc, func(v string) error {
		return svc.SetPreset(v)
	})
}

func (s *Server) handlePostCalibrate(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.zoneFor(w, r)
	if !ok {
		return
	}
	if err := svc.Calibrate(); err != nil {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, svc.Status())
}

// ---- generic helpers ----

func (s *Server) zoneFor(w http.ResponseWriter, r *http.Request) (ports.ZoneService, bool) {
	id := mux.Vars(r)["id"]
	svc, ok := s.zones[id]
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown zone: "+id)
		return nil, false
	}
	return svc, true
}

func postValue[T any](w http.ResponseWriter, r *http.Request, svc ports.ZoneService, apply func(T) error) {
	dec := json.NewDecoder(r.Body)
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	if err := apply(*req.Value); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, svc.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
