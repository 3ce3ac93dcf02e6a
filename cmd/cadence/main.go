package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/cadencehq/cadence/internal/agents"
	"github.com/cadencehq/cadence/internal/analysis"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/connectors"
	"github.com/cadencehq/cadence/internal/orchestrator"
	"github.com/cadencehq/cadence/internal/queue"
	"github.com/cadencehq/cadence/internal/runtime"
	"github.com/cadencehq/cadence/internal/scheduler"
	"github.com/cadencehq/cadence/internal/skills"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/syncjob"
	"github.com/cadencehq/cadence/internal/trigger"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all the runtime components
type App struct {
	Config        *config.Config
	ConfigPath    string
	Logger        *slog.Logger
	Store         *store.Store
	SkillRegistry *skills.Registry
	AgentRegistry *agents.Registry
	History       *agents.HistoryStore
	Connectors    *connectors.Catalog
	Queue         queue.Queue
	MQTTQueue     *queue.MQTTQueue
	Coordinator   *syncjob.Coordinator
	Orchestrator  *orchestrator.Orchestrator
	PostSync      *trigger.PostSync
	Scheduler     *scheduler.Scheduler
	Watcher       *config.Watcher
}

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("cadence", flag.ExitOnError)
	configPath := fs.String("config", "cadence.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("Cadence v%s (built %s)\n", version, buildTime)
		fmt.Println("CRM signal analysis service")
		return 0
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	if err := startServices(app); err != nil {
		app.Logger.Error("failed to start services", "error", err)
		return 1
	}

	printBanner(app)

	if err := waitForShutdown(app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}

	return 0
}

// setup initializes all application components
func setup(configPath string) (*App, error) {
	app := &App{ConfigPath: configPath}

	// Setup logger (initially at Info level)
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	app.Logger.Info("starting Cadence", "version", version, "config", configPath)

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate logger with config's log level
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	// Persistence
	st, err := store.Open(filepath.Join(cfg.Server.DataDir, "cadence.db"), app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.Store = st

	// Skill definitions
	policy := skills.PolicyStrict
	if cfg.Skills.DuplicatePolicy == "lenient" {
		policy = skills.PolicyLenient
	}
	app.SkillRegistry = skills.NewRegistry(policy, app.Logger)
	loader := skills.NewLoader(cfg.Skills.Dir, app.Logger)
	defs, err := loader.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	if err := app.SkillRegistry.RegisterAll(defs); err != nil {
		return nil, fmt.Errorf("register skills: %w", err)
	}

	// Workspace agents
	app.AgentRegistry, err = agents.NewRegistry(cfg.Server.DataDir, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("create agent registry: %w", err)
	}
	if err := app.AgentRegistry.Load(); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	if err := initializeAgents(app.AgentRegistry, cfg, app.Logger); err != nil {
		return nil, fmt.Errorf("initialize agents: %w", err)
	}
	app.History, err = agents.NewHistoryStore(cfg.Server.DataDir, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("create history store: %w", err)
	}

	// Connector descriptors
	app.Connectors = connectors.NewCatalog(app.Logger)
	if err := app.Connectors.LoadDir(cfg.Connectors.Dir); err != nil {
		return nil, fmt.Errorf("load connectors: %w", err)
	}

	// Job queue: MQTT when a broker is configured, in-process otherwise
	if cfg.MQTT.Enabled {
		mq, err := queue.NewMQTTQueue(cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.Username, cfg.MQTT.Password, app.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect mqtt: %w", err)
		}
		app.MQTTQueue = mq
		app.Queue = mq
	} else {
		app.Queue = queue.NewMemoryQueue()
		app.Logger.Info("mqtt disabled, using in-process job queue")
	}

	// Skill runtime
	ft := runtime.NewFuncTable()
	if err := analysis.RegisterBuiltins(ft); err != nil {
		return nil, fmt.Errorf("register builtins: %w", err)
	}
	runner := runtime.NewRunner(ft, app.Logger)

	app.Orchestrator = orchestrator.New(app.SkillRegistry, app.AgentRegistry, app.History, runner, st, app.Logger)
	app.PostSync = trigger.NewPostSync(app.SkillRegistry, app.Orchestrator, app.Logger)

	// Sync coordination; completed syncs fan out to post-sync skills
	app.Coordinator = syncjob.NewCoordinator(st, app.Queue, app.Logger,
		syncjob.WithStaleAfter(time.Duration(cfg.Sync.StaleAfterMinutes)*time.Minute),
		syncjob.WithNotifier(app.PostSync))

	// Cron-scheduled skills
	app.Scheduler = scheduler.NewScheduler(app.Orchestrator, app.Logger)
	if err := app.Scheduler.AddJobs(scheduler.JobsFromRegistry(app.SkillRegistry, cfg.WorkspaceIDs())); err != nil {
		return nil, fmt.Errorf("schedule skills: %w", err)
	}

	// Hot config reload
	app.Watcher = config.NewWatcher(configPath, 10*time.Second, app.Logger, func() {
		result, err := app.Config.Reload(configPath)
		if err != nil {
			app.Logger.Error("config reload failed", "error", err)
			return
		}
		result.LogResult(app.Logger)
	})

	return app, nil
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			cfg = config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			logger.Info("default config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initializeAgents creates workspace agents from config if they don't exist
func initializeAgents(registry *agents.Registry, cfg *config.Config, logger *slog.Logger) error {
	for _, ws := range cfg.Workspaces {
		for _, skillID := range ws.Skills {
			id := agents.AgentID(ws.ID, skillID)
			if _, err := registry.Get(id); err == nil {
				logger.Debug("agent already loaded", "id", id)
				continue
			}

			settings := make(map[string]any, len(ws.Settings))
			for k, v := range ws.Settings {
				settings[k] = v
			}
			if _, err := registry.Create(ws.ID, skillID, settings); err != nil {
				return fmt.Errorf("create agent %s: %w", id, err)
			}
		}
	}
	return nil
}

// startServices starts all background services
func startServices(app *App) error {
	if err := app.Scheduler.Start(context.Background()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// Worker completion reports settle sync logs and fire post-sync skills.
	if app.MQTTQueue != nil {
		err := app.MQTTQueue.SubscribeResults(func(res queue.Result) {
			if err := app.Coordinator.Complete(context.Background(), res); err != nil {
				app.Logger.Error("sync completion failed", "sync_log_id", res.SyncLogID, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe sync results: %w", err)
		}
	}

	app.Watcher.Start()
	return nil
}

// printBanner displays the startup banner
func printBanner(app *App) {
	fmt.Println()
	fmt.Printf("  Cadence v%s\n", version)
	fmt.Printf("  Skills: %d registered\n", app.SkillRegistry.Count())
	fmt.Printf("  Connectors: %d loaded\n", len(app.Connectors.Types()))
	fmt.Printf("  Workspaces: %d configured\n", len(app.Config.Workspaces))
	fmt.Println()
}

// waitForShutdown waits for termination signal and performs graceful shutdown
func waitForShutdown(app *App) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)

	for {
		sig := <-sigCh

		// Handle platform-specific signals (SIGHUP on Unix)
		if handlePlatformSignal(sig, app) {
			continue
		}

		app.Logger.Info("shutdown signal received", "signal", sig)
		break
	}

	app.Watcher.Stop()
	app.Scheduler.Stop()

	// Let in-flight post-sync skill runs finish.
	app.PostSync.Wait()

	app.Logger.Info("saving state...")
	if err := app.AgentRegistry.SaveAll(); err != nil {
		app.Logger.Error("failed to save agents", "error", err)
	}
	app.History.SaveAll()

	if app.MQTTQueue != nil {
		app.MQTTQueue.Close()
	}
	if err := app.Store.Close(); err != nil {
		app.Logger.Error("failed to close store", "error", err)
	}

	app.Logger.Info("Cadence stopped")
	return nil
}
