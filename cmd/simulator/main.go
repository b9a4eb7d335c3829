package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"rasim/internal/logging"
	"rasim/internal/mutex"
	"rasim/internal/server"
	"rasim/internal/simulation"
	"rasim/internal/trace"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

func main() {
	virtual := flag.Bool("virtual", false, "Run in virtual time as fast as possible instead of wall-clock time")
	entries := flag.Int("entries", 100, "Critical section entries of a virtual run")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-virtual [-entries n]] <config_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	boot := logging.NewStdLogger("simulator")
	conf, err := simulation.NewConfig(flag.Args())
	if err != nil {
		flag.Usage()
		boot.Errorf("Failed to create simulation config: %v", err)
		os.Exit(1)
	}

	var logFile *logging.LogFile
	logger := boot
	if conf.LogPath != "" {
		logFile, err = logging.NewLogFile(conf.LogPath)
		if err != nil {
			boot.Errorf("Failed to open log file %s: %v", conf.LogPath, err)
			os.Exit(1)
		}
		defer logFile.Close()
		logger = logging.NewLogger(logFile, "simulator", false)
	}

	if err := run(logger, conf, *virtual, *entries); err != nil {
		logger.Errorf("Simulation failed: %v", err)
		if logFile != nil {
			logFile.Close()
		}
		os.Exit(1)
	}
}

// output gathers the optional sinks of a run: the trace file and the run store.
type output struct {
	log   *logging.Logger
	info  trace.RunInfo
	jsonl *trace.JSONLWriter
	store *trace.Store
}

func openOutput(logger *logging.Logger, conf *simulation.Config, virtual bool) (*output, error) {
	confJSON, err := json.Marshal(conf)
	if err != nil {
		return nil, err
	}

	out := &output{
		log: logger,
		info: trace.RunInfo{
			ID:        uuid.New(),
			StartedAt: time.Now(),
			Virtual:   virtual,
			Config:    confJSON,
		},
	}

	if conf.TracePath != "" {
		if out.jsonl, err = trace.OpenJSONLFile(conf.TracePath); err != nil {
			return nil, fmt.Errorf("failed to open trace %s: %w", conf.TracePath, err)
		}
	}
	if conf.DBPath != "" {
		if out.store, err = trace.OpenStore(conf.DBPath); err != nil {
			out.close(nil)
			return nil, fmt.Errorf("failed to open run store %s: %w", conf.DBPath, err)
		}
		if err := out.store.SaveRun(out.info); err != nil {
			out.close(nil)
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
	}

	logger.Infof("Run %v", out.info.ID)
	return out, nil
}

// recorder returns the observer tracing the run, or nil when there is nowhere to write.
func (o *output) recorder(now func() time.Time) *trace.Recorder {
	if o.jsonl == nil && o.store == nil {
		return nil
	}
	return trace.NewRecorder(o.log.WithPostfix("trace"), o.info.ID, now, o.jsonl, o.store)
}

// runStore returns the store for the HTTP API, as an untyped nil when there is none.
func (o *output) runStore() server.RunStore {
	if o.store == nil {
		return nil
	}
	return o.store
}

// close records the final stats of the run, when given, and closes every sink.
func (o *output) close(stats *simulation.StatsSnapshot) {
	if o.jsonl != nil {
		if err := o.jsonl.Close(); err != nil {
			o.log.Errorf("Failed to close trace: %v", err)
		}
	}
	if o.store == nil {
		return
	}

	if stats != nil {
		o.info.EndedAt = time.Now()
		if data, err := json.Marshal(stats); err == nil {
			o.info.Stats = data
		}
		if err := o.store.SaveRun(o.info); err != nil {
			o.log.Errorf("Failed to save run: %v", err)
		}
	}
	if err := o.store.Close(); err != nil {
		o.log.Errorf("Failed to close run store: %v", err)
	}
}

func run(logger *logging.Logger, conf *simulation.Config, virtual bool, entries int) error {
	out, err := openOutput(logger, conf, virtual)
	if err != nil {
		return err
	}

	var stats simulation.StatsSnapshot
	if virtual {
		stats, err = runVirtual(logger, conf, entries, out)
	} else {
		stats, err = runWallClock(logger, conf, out)
	}
	out.close(&stats)
	if err != nil {
		return err
	}

	printStats(logger, stats)
	return nil
}

func runVirtual(logger *logging.Logger, conf *simulation.Config, entries int, out *output) (simulation.StatsSnapshot, error) {
	vr, err := simulation.NewVirtualRun(logger, conf)
	if err != nil {
		return simulation.StatsSnapshot{}, err
	}
	rec := out.recorder(vr.Now)
	if rec != nil {
		vr.AddObserver(rec)
	}

	res, err := vr.Run(entries)
	if rec != nil {
		rec.Flush()
	}
	if res == nil {
		return simulation.StatsSnapshot{}, err
	}
	if !res.Drained {
		logger.Warn("Run ended with outstanding requests")
	}
	return res.Stats, err
}

func runWallClock(logger *logging.Logger, conf *simulation.Config, out *output) (simulation.StatsSnapshot, error) {
	var observers []mutex.Observer
	rec := out.recorder(time.Now)
	if rec != nil {
		observers = append(observers, rec)
	}

	sim, err := simulation.New(logger, conf, observers...)
	if err != nil {
		return simulation.StatsSnapshot{}, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if conf.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              conf.HTTPAddr,
			Handler:           server.New(logger.WithPostfix("http"), sim, out.runStore()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Infof("Serving the simulation on %s", conf.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("HTTP server failed: %v", err)
			}
		}()
	}

	sim.Start(ctx)
	<-sim.Done()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("HTTP server shutdown: %v", err)
		}
	}
	sim.Stop()
	if rec != nil {
		rec.Flush()
	}

	if v := sim.Violations(); len(v) > 0 {
		return sim.Stats(), fmt.Errorf("%d mutual exclusion violations", len(v))
	}
	return sim.Stats(), nil
}

func printStats(logger *logging.Logger, s simulation.StatsSnapshot) {
	holders := make([]string, len(s.LastHolders))
	for i, pid := range s.LastHolders {
		holders[i] = pid.String()
	}

	logger.Infof("Total requests: %d", s.Requests)
	logger.Infof("Current requests: %d", s.CurrentRequests)
	logger.Infof("Critical section entries: %d", s.Entries)
	logger.Infof("Average latency: %.2f s", s.AverageLatency.Seconds())
	logger.Infof("Average waiting time: %.2f s", s.AverageWaiting.Seconds())
	logger.Infof("Total messages: %d", s.MessagesSent)
	logger.Infof("Last holders: %s", strings.Join(holders, ", "))
	logger.Infof("Elapsed: %v", s.Elapsed)
}
