package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtrakernel/freqlockd/internal/api"
	"github.com/xtrakernel/freqlockd/internal/app/smartlock"
	"github.com/xtrakernel/freqlockd/internal/health"
	"github.com/xtrakernel/freqlockd/internal/infra/catalog"
	"github.com/xtrakernel/freqlockd/internal/infra/sensorguard"
	"github.com/xtrakernel/freqlockd/internal/infra/sqlite"
	"github.com/xtrakernel/freqlockd/internal/infra/sysfs"
)

// Daemon is the freqlockd runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Host   *sysfs.Host
	Sensor *sensorguard.Sensor
	Engine *smartlock.Engine
	Health *health.Checker
	Server *api.Server

	logFile io.Closer
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon from the config file.
func New(version string) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg, version)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config, version string) (*Daemon, error) {
	dataDir := cfg.Storage.Dir
	if dataDir == "" {
		dataDir = freqlockHome()
	}

	logFile, err := setupLogging(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	// Open SQLite
	db, err := sqlite.Open(dataDir)
	if err != nil {
		closeQuietly(logFile)
		return nil, fmt.Errorf("open database: %w", err)
	}

	cat, err := catalog.LoadFile(cfg.Policy.File)
	if err != nil {
		_ = db.Close()
		closeQuietly(logFile)
		return nil, fmt.Errorf("load policies: %w", err)
	}

	host, err := sysfs.New(sysfs.Config{Root: cfg.Sysfs.Root, ZoneFilter: cfg.Sysfs.ZoneFilter})
	if err != nil {
		_ = db.Close()
		closeQuietly(logFile)
		return nil, err
	}

	sensor := sensorguard.New(host, sensorguard.Config{
		FailureThreshold: cfg.Monitor.SensorFailureThreshold,
		ResetTimeout:     parseDuration(cfg.Monitor.SensorResetTimeout, 0),
	})

	engine := smartlock.New(
		smartlock.Ports{Temperature: sensor, Discovery: host, Controller: host},
		cat,
		smartlock.Config{
			TickInterval: parseDuration(cfg.Monitor.TickInterval, 0),
			ErrorBackoff: parseDuration(cfg.Monitor.ErrorBackoff, 0),
		},
	)

	checker := health.NewChecker(health.Deps{
		DB:          db,
		Temperature: sensor,
		Discovery:   host,
		DataDir:     dataDir,
	}, parseDuration(cfg.Health.Interval, health.DefaultInterval))

	srv := api.NewServer(engine)
	srv.SetVersion(version)
	srv.SetHistory(db)
	srv.SetHealth(checker)
	srv.SetSensor(sensor)
	srv.SetDiscovery(host)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:  cfg,
		DB:      db,
		Host:    host,
		Sensor:  sensor,
		Engine:  engine,
		Health:  checker,
		Server:  srv,
		logFile: logFile,
	}, nil
}

// Serve resumes any persisted session, starts the HTTP server and background
// services, and blocks until ctx is cancelled or a signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	d.Engine.RestoreFromPersistedState(ctx, loadState(d.DB))

	// Subscribe before the group starts so no committed state is missed.
	states := d.Engine.States(ctx)
	events := d.Engine.Events(ctx)

	httpServer := &http.Server{
		Addr:         d.Config.Addr(),
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event stream is long-lived
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		persistStates(states, d.DB)
		return nil
	})
	g.Go(func() error {
		journalEvents(events, d.DB, d.Engine.DroppedEvents)
		return nil
	})
	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		pruneEvents(gctx, d.DB, d.Config.Storage.EventRetention,
			parseDuration(d.Config.Storage.PruneInterval, time.Hour))
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		// The state and event streams close with ctx.
		cancel()
		return nil
	})

	addr := d.Config.Addr()
	fmt.Printf("freqlockd serving on http://%s\n", addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	err := g.Wait()

	// Locks stay applied across restarts; only background work stops here.
	d.Engine.Cleanup()
	if saveErr := d.DB.SaveLockState(d.Engine.State()); saveErr != nil {
		log.Printf("[daemon] final state save failed: %v", saveErr)
	}
	return err
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Engine != nil {
		d.Engine.Cleanup()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	closeQuietly(d.logFile)
}

// setupLogging routes the standard logger to stderr and, when configured, a
// log file. Debug level adds file:line to every entry.
func setupLogging(cfg LoggingConfig) (io.Closer, error) {
	flags := log.LstdFlags
	if cfg.Level == "debug" {
		flags |= log.Lshortfile
	}
	log.SetFlags(flags)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
