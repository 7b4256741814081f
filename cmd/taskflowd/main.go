// Command taskflowd exposes the orchestrator core (§4.13) over a minimal
// net/http + text/event-stream interface (§6) so the system can be driven
// end-to-end without a generated service layer. It deliberately does not
// pull in goa.design/goa/v3 codegen: wiring that framework would require
// running a code generator, which this build does not do (see DESIGN.md).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/config"
	"goa.design/taskflow/events"
	"goa.design/taskflow/llm"
	"goa.design/taskflow/llm/anthropic"
	"goa.design/taskflow/llm/openai"
	"goa.design/taskflow/moderouter"
	"goa.design/taskflow/planner"
	"goa.design/taskflow/providers"
	"goa.design/taskflow/providerselect"
	"goa.design/taskflow/replan"
	"goa.design/taskflow/runlog"
	runloginmem "goa.design/taskflow/runlog/inmem"
	runlogmongo "goa.design/taskflow/runlog/mongo"
	clientsmongo "goa.design/taskflow/runlog/mongo/clients/mongo"
	"goa.design/taskflow/schema"
	"goa.design/taskflow/session"
	sessioninmem "goa.design/taskflow/session/inmem"
	"goa.design/taskflow/telemetry"
	"goa.design/taskflow/toolexec"
	"goa.design/taskflow/toolplan"
	"goa.design/taskflow/verify"
	"goa.design/taskflow/workflow"
)

func main() {
	var (
		hostF      = flag.String("host", "localhost", "listen host")
		portF      = flag.String("port", "8080", "listen port")
		configF    = flag.String("config", "", "path to YAML configuration document (§6); defaults baked in when empty")
		mongoURIF  = flag.String("mongo-uri", "", "MongoDB URI for the durable run log; in-memory run log used when empty")
		redisAddrF = flag.String("redis-addr", "", "Redis address for the cluster-wide LLM rate budget; process-local budget used when empty")
		debugF     = flag.Bool("debug", false, "enable debug-level logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debugF {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configF)
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	deps, err := wire(cfg, *mongoURIF, *redisAddrF)
	if err != nil {
		logger.Error("wiring failed", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	srv := newServer(deps, logger)

	addr := net.JoinHostPort(*hostF, *portF)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		logger.Error("server error", "err", err)
	case sig := <-sigc:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func loadConfig(path string) (config.Document, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// deps bundles every component wired together from config. The downstream
// stage components are shared across every run; only the event sink is
// per-run (§4.13, §4.15 — events.NewBroadcaster is scoped to one session),
// so deps exposes newScheduler to build a fresh workflow.Engine per run
// around a caller-supplied sink rather than fixing one at wire time.
type deps struct {
	cfg         config.Document
	registry    *providers.Registry
	sessions    session.Store
	runlogStore runlog.Store
	moderouter  *moderouter.Router
	planner     *planner.Planner
	closers     []func() error

	providerSelector *providerselect.Selector
	toolPlanner      *toolplan.Planner
	executor         *toolexec.Executor
	verifier         *verify.Verifier
	replanner        *replan.Replanner
	clk              clock.Clock
}

func (d *deps) Close() {
	for _, c := range d.closers {
		_ = c()
	}
}

// newScheduler builds a workflow.Engine wired to this process's shared
// stage components, emitting events to sink for the duration of one run.
func (d *deps) newScheduler(sink events.Sink) *workflow.Engine {
	return workflow.New(workflow.Deps{
		ProviderSelector: d.providerSelector,
		ToolPlanner:      d.toolPlanner,
		Executor:         d.executor,
		Verifier:         d.verifier,
		Replanner:        d.replanner,
		Registry:         d.registry,
		Clock:            d.clk,
		Sink:             sink,
		Config:           d.cfg,
	})
}

func wire(cfg config.Document, mongoURI, redisAddr string) (*deps, error) {
	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}

	stageClient := func(stageName string) (llm.Client, string, error) {
		stage, ok := cfg.Stage(stageName)
		if !ok {
			return nil, "", fmt.Errorf("taskflowd: stage %q not configured", stageName)
		}
		c, err := buildLLMClient(stage, cfg, httpClient, rdb)
		return c, stage.Model, err
	}

	modeClient, modeModel, err := stageClient("mode_router")
	if err != nil {
		return nil, err
	}
	plannerClient, plannerModel, err := stageClient("planner")
	if err != nil {
		return nil, err
	}
	selectClient, selectModel, err := stageClient("provider_select")
	if err != nil {
		return nil, err
	}
	toolPlanClient, _, err := stageClient("tool_planner")
	if err != nil {
		return nil, err
	}
	verifyClient, verifyModel, err := stageClient("verifier")
	if err != nil {
		return nil, err
	}
	replanClient, replanModel, err := stageClient("replanner")
	if err != nil {
		return nil, err
	}

	otelLogger := telemetry.NewOTelLogger()

	registry := providers.NewRegistry(otelLogger)
	wireProviders(registry, cfg)

	var rlStore runlog.Store
	var closers []func() error
	if mongoURI != "" {
		mongoClient, err := mongodriver.Connect(mongooptions.Client().ApplyURI(mongoURI))
		if err != nil {
			return nil, fmt.Errorf("taskflowd: connect mongo: %w", err)
		}
		lowLevel, err := clientsmongo.New(clientsmongo.Options{Client: mongoClient})
		if err != nil {
			return nil, fmt.Errorf("taskflowd: mongo runlog client: %w", err)
		}
		store, err := runlogmongo.NewStore(lowLevel)
		if err != nil {
			return nil, fmt.Errorf("taskflowd: mongo runlog store: %w", err)
		}
		rlStore = store
		closers = append(closers, func() error { return mongoClient.Disconnect(context.Background()) })
	} else {
		rlStore = runloginmem.New()
	}

	constrainer := schema.New()
	clk := clock.Real{}

	toolPlanner := toolplan.New(toolPlanClient, constrainer, registry, clk, otelLogger,
		cfg.Retry.ToolPlanningMaxAttempts, cfg.Retry.ToolPlanningRetryDelay)
	executor := toolexec.New(registry, nil, otelLogger, nil, cfg.ShellMap)
	verifier := verify.New(verifyClient, toolPlanner, executor, registry, clk, nil, verifyModel)
	replanner := replan.New(replanClient, replanModel, nil)
	selector := providerselect.New(selectClient, selectModel)

	d := &deps{
		cfg:              cfg,
		registry:         registry,
		sessions:         sessioninmem.New(),
		runlogStore:      rlStore,
		moderouter:       moderouter.New(modeClient, modeModel),
		planner:          planner.New(plannerClient, plannerModel, nil),
		closers:          closers,
		providerSelector: selector,
		toolPlanner:      toolPlanner,
		executor:         executor,
		verifier:         verifier,
		replanner:        replanner,
		clk:              clk,
	}

	return d, nil
}

func buildLLMClient(stage config.StageConfig, cfg config.Document, httpClient *http.Client, rdb *redis.Client) (llm.Client, error) {
	switch stage.Provider {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("taskflowd: ANTHROPIC_API_KEY not set for anthropic provider")
		}
		return anthropic.NewFromAPIKey(key, stage.Model)
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("taskflowd: OPENAI_API_KEY not set for openai provider")
		}
		return openai.NewFromAPIKey(key, stage.Model)
	case "bedrock":
		// llm/bedrock.New requires a *bedrockruntime.Client built from an
		// AWS config (aws-sdk-go-v2/config), a module this build does not
		// depend on; selecting bedrock from this binary is not supported
		// without wiring that in separately. The adapter itself is fully
		// implemented and tested in package llm/bedrock.
		return nil, fmt.Errorf("taskflowd: bedrock provider requires a runtime client wired outside this binary")
	case "http", "":
		var cluster llm.ClusterBudget
		if rdb != nil {
			cluster = llm.NewRedisClusterBudget(rdb, "taskflowd:llm-budget", 1_000_000, time.Minute)
		}
		limiter := llm.NewRateLimiter(60_000, 120_000, cluster)
		return llm.NewHTTPClient(llm.HTTPOptions{
			Endpoint:         cfg.APIEndpoint.Primary,
			FallbackEndpoint: cfg.APIEndpoint.Fallback,
			UseFallback:      cfg.APIEndpoint.UseFallback,
			HTTPClient:       httpClient,
			RateLimit:        limiter,
			Retry:            llm.DefaultRetryPolicy(),
		})
	default:
		return nil, fmt.Errorf("taskflowd: unknown provider %q", stage.Provider)
	}
}

// wireProviders registers a providers.HTTPClient for every app endpoint
// named in cfg.Apps, so the tool registry has something to refresh against.
// cfg.ShellMap is consumed directly by the tool executor (see toolexec.New's
// shellMap argument), not here; cfg.Paths is not read by this binary.
func wireProviders(registry *providers.Registry, cfg config.Document) {
	for name, endpoint := range cfg.Apps {
		registry.Register(name, providers.NewHTTPClient(providers.HTTPOptions{
			Endpoint:   endpoint,
			ServerName: name,
		}))
	}
}
