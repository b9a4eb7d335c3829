package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"rasim/internal/simulation"
	"rasim/internal/trace"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Simulator is the running simulation, as seen by the server.
type Simulator interface {
	Snapshots() []mutex.Snapshot
	Stats() simulation.StatsSnapshot
	Request(pid mutex.Pid) error
	Subscribe() (<-chan simulation.TimedEvent, func())
}

// RunStore gives access to the recorded runs.
type RunStore interface {
	Runs() ([]trace.RunInfo, error)
	Records(runID uuid.UUID) ([]trace.Record, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

type server struct {
	log   *logging.Logger
	sim   Simulator
	store RunStore
}

/*
New returns the HTTP API of a simulation.

Routes:
  - GET /processes: the state of every process.
  - GET /stats: the aggregate statistics of the run.
  - POST /processes/{pid}/request: makes a process request the critical section.
  - GET /events: websocket streaming every event as JSON.
  - GET /runs and GET /runs/{id}/records: the recorded runs, only when store is not nil.
*/
func New(logger *logging.Logger, sim Simulator, store RunStore) http.Handler {
	s := &server{log: logger, sim: sim, store: store}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.logRequests)

	r.Get("/processes", s.getProcesses)
	r.Get("/stats", s.getStats)
	r.Post("/processes/{pid}/request", s.postRequest)
	r.Get("/events", s.streamEvents)
	if store != nil {
		r.Get("/runs", s.getRuns)
		r.Get("/runs/{id}/records", s.getRecords)
	}

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Infof("%s %s -> %d in %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func (s *server) getProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Snapshots())
}

// statsView is StatsSnapshot with durations in seconds.
type statsView struct {
	Requests          uint64      `json:"requests"`
	CurrentRequests   int         `json:"current_requests"`
	Entries           uint64      `json:"entries"`
	MessagesSent      uint64      `json:"messages_sent"`
	MessagesDelivered uint64      `json:"messages_delivered"`
	AverageLatency    float64     `json:"average_latency_sec"`
	AverageWaiting    float64     `json:"average_waiting_sec"`
	LastHolders       []mutex.Pid `json:"last_holders"`
	Elapsed           float64     `json:"elapsed_sec"`
}

func newStatsView(s simulation.StatsSnapshot) statsView {
	return statsView{
		Requests:          s.Requests,
		CurrentRequests:   s.CurrentRequests,
		Entries:           s.Entries,
		MessagesSent:      s.MessagesSent,
		MessagesDelivered: s.MessagesDelivered,
		AverageLatency:    s.AverageLatency.Seconds(),
		AverageWaiting:    s.AverageWaiting.Seconds(),
		LastHolders:       s.LastHolders,
		Elapsed:           s.Elapsed.Seconds(),
	}
}

func (s *server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatsView(s.sim.Stats()))
}

func (s *server) postRequest(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(chi.URLParam(r, "pid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pid")
		return
	}

	err = s.sim.Request(mutex.Pid(pid))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, simulation.ErrUnknownProcess):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, mutex.ErrProtocolViolation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, simulation.ErrStopped), errors.Is(err, simulation.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Errorf("Request of %d failed: %v", pid, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// streamEvents sends every event of the simulation to the client until either side closes.
func (s *server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.log.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.sim.Subscribe()
	defer unsubscribe()

	// The client sends nothing, but reading is needed to notice it leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Warnf("Closing event stream: %v", err)
				return
			}
		}
	}
}

func (s *server) getRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) getRecords(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	records, err := s.store.Records(id)
	if errors.Is(err, trace.ErrUnknownRun) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type Error struct {
		Message string `json:"message"`
	}
	writeJSON(w, status, Error{Message: msg})
}
