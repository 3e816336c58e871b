// v3
// internal/api/server.go
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/skortchmark9/apt-heat/internal/config"
	"github.com/skortchmark9/apt-heat/internal/metrics"
	"github.com/skortchmark9/apt-heat/internal/recon"
	"github.com/skortchmark9/apt-heat/internal/shadow"
	"github.com/skortchmark9/apt-heat/internal/sleep"
	"github.com/skortchmark9/apt-heat/internal/store"
	"github.com/skortchmark9/apt-heat/internal/tariff"
)

// Server exposes the controller's state over HTTP. Handlers read and
// write through the channel shadow; nothing here talks to a device
// directly, so a hung gateway can never hang a request.
type Server struct {
	cfg      config.Config
	lg       *slog.Logger
	shadow   *shadow.Store
	session  *sleep.Session
	tariffs  *tariff.Engine
	heater   *recon.HeaterPolicy
	battery  *recon.BatteryPolicy
	readings store.Store
	met      *metrics.Metrics
	clock    recon.Clock
	loops    []*recon.Loop
	started  time.Time
}

func NewServer(cfg config.Config, lg *slog.Logger, sh *shadow.Store, session *sleep.Session, tariffs *tariff.Engine, heaterPol *recon.HeaterPolicy, batteryPol *recon.BatteryPolicy, readings store.Store, met *metrics.Metrics, clock recon.Clock, loops []*recon.Loop) *Server {
	return &Server{
		cfg:      cfg,
		lg:       lg,
		shadow:   sh,
		session:  session,
		tariffs:  tariffs,
		heater:   heaterPol,
		battery:  batteryPol,
		readings: readings,
		met:      met,
		clock:    clock,
		loops:    loops,
		started:  clock(),
	}
}

// Router wires every route. The caller wraps it with access logging.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.health).Methods("GET")
	if s.met != nil {
		r.Handle("/metrics", s.met.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/channels", s.listChannels).Methods("GET")
	api.HandleFunc("/channels/{key}/target", s.putTarget).Methods("PUT")
	api.HandleFunc("/readings", s.getReadings).Methods("GET")
	api.HandleFunc("/savings", s.getSavings).Methods("GET")
	api.HandleFunc("/battery", s.getBattery).Methods("GET")
	api.HandleFunc("/battery/automation/toggle", s.toggleAutomation).Methods("POST")
	api.HandleFunc("/heater/automation/toggle", s.toggleHeaterAutomation).Methods("POST")
	api.HandleFunc("/sleep", s.startSleep).Methods("POST")
	api.HandleFunc("/sleep", s.getSleep).Methods("GET")
	api.HandleFunc("/sleep/cancel", s.cancelSleep).Methods("POST")
	api.HandleFunc("/status", s.getStatus).Methods("GET")

	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.met.WrapHandler(route, next).ServeHTTP(w, r)
	})
}

// health stays 200 even when a device is degraded: the controller
// itself is alive and the HTTP surface is how you find out what broke.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	for _, l := range s.loops {
		if l.Health().Degraded {
			status = "degraded"
			break
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.lg.Error("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
