// Package server provides the public entry point for initializing the
// UI-Compute runtime: it wires config, telemetry, policy, the network
// guard, the window/DOM/component modules, the adapter orchestrator, the
// LLM orchestrator, the rollout controller, and the admin HTTP router
// into one ready-to-run Server. Grounded on the teacher's pkg/server/
// server.go composition root, narrowed from "initialize every control-
// plane subsystem and its Pro overrides" to this module's eleven
// components, in the same dependency order (config → telemetry → store
// → domain services → handlers → router).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/uicp/runtime/internal/adapter"
	"github.com/uicp/runtime/internal/api"
	"github.com/uicp/runtime/internal/api/handlers"
	"github.com/uicp/runtime/internal/component"
	"github.com/uicp/runtime/internal/config"
	"github.com/uicp/runtime/internal/dom"
	"github.com/uicp/runtime/internal/llmorch"
	"github.com/uicp/runtime/internal/netguard"
	"github.com/uicp/runtime/internal/policy"
	"github.com/uicp/runtime/internal/provider"
	"github.com/uicp/runtime/internal/rollout"
	"github.com/uicp/runtime/internal/state"
	"github.com/uicp/runtime/internal/store"
	"github.com/uicp/runtime/internal/streamext"
	"github.com/uicp/runtime/internal/telemetry"
	"github.com/uicp/runtime/internal/window"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// Server holds every initialized subsystem of the runtime.
type Server struct {
	// Handler is the HTTP handler with all admin/debug routes and
	// middleware applied.
	Handler http.Handler

	Config      *config.Config
	Policy      *policy.Store
	Guard       *netguard.Guard
	Capabilities *netguard.Registry
	Windows     *window.Manager
	DOM         *dom.Applier
	Components  *component.Registry
	State       *state.Store
	Adapter     *adapter.Orchestrator
	Provider    *provider.Router
	LLM         *llmorch.Orchestrator
	Rollout     *rollout.Controller
	Bus         contracts.EventBus
	Emitter     *telemetry.Emitter

	// ShutdownFunc flushes OpenTelemetry and should be called on
	// graceful shutdown.
	ShutdownFunc func(context.Context) error

	cancelBackgroundLoops context.CancelFunc
}

// New initializes the full runtime with configuration loaded from the
// environment.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the runtime with an explicit configuration,
// primarily for tests and hosts that build their own Config rather than
// reading the environment.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	bus := contracts.NewCommunityEventBus()
	log.Info().Msg("event bus initialized")

	var persist contracts.PolicyPersistence
	if cfg.Policy.PolicyPath != "" {
		fs, err := store.NewFileStore(cfg.Policy.PolicyPath)
		if err != nil {
			log.Warn().Err(err).Msg("policy file store unavailable, policy changes will not survive a restart")
		} else {
			persist = fs
		}
	}
	preset := uicp.PolicyPreset(cfg.Policy.DefaultPreset)
	policyStore := policy.NewStore(ctx, persist, preset)
	log.Info().Str("preset", string(preset)).Msg("policy engine initialized")

	intel := netguard.NewThreatIntel(cfg.Guard.ThreatIntelURL, time.Duration(cfg.Guard.ThreatIntelTTL)*time.Second, cfg.Guard.CacheCapacity, cfg.Guard.ThreatIntelEnabled)
	quota := netguard.NewQuotaLimiter()
	guard := netguard.NewGuard(policyStore, quota, intel, bus, nil)
	capRegistry := netguard.NewRegistry(guard)
	log.Info().Msg("network guard initialized")

	windows := window.NewManager()
	domApplier := dom.NewApplier(windows, nil)
	components := component.NewRegistry()
	component.RegisterBuiltins(components)
	stateStore := state.NewStore()
	log.Info().Msg("window/DOM/component modules initialized")

	orchestrator := adapter.New(windows, domApplier, components, stateStore, capRegistry, bus)
	log.Info().Msg("adapter orchestrator initialized")

	bridge := provider.NewHTTPChatBridge()
	router := provider.NewRouter(bridge)
	router.Register(provider.Profile{Name: llmorch.PlannerProfile, Format: streamext.WireOpenAI})
	router.Register(provider.Profile{Name: llmorch.ActorProfile, Format: streamext.WireOpenAI})
	llm := llmorch.New(router, nil)
	log.Info().Msg("LLM orchestrator initialized")

	rolloutController := rollout.New(bus, uicp.RolloutCanary)

	emitter := telemetry.NewEmitter(bus)
	emitter.Register(telemetry.LogSink{})
	if cfg.Store.DSN != "" {
		pgSink, err := store.NewPGTelemetrySink(ctx, cfg.Store.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres telemetry sink unavailable, continuing with log sink only")
		} else {
			emitter.Register(pgSink)
		}
	}

	bgCtx, cancel := context.WithCancel(ctx)
	go rolloutController.Run(bgCtx)
	go emitter.Run(bgCtx)

	h := handlers.New(policyStore, rolloutController, bus, orchestrator, llm, cfg.Version)
	httpRouter := api.NewRouter(cfg, h)

	return &Server{
		Handler:               httpRouter,
		Config:                cfg,
		Policy:                policyStore,
		Guard:                 guard,
		Capabilities:          capRegistry,
		Windows:               windows,
		DOM:                   domApplier,
		Components:            components,
		State:                 stateStore,
		Adapter:               orchestrator,
		Provider:              router,
		LLM:                   llm,
		Rollout:               rolloutController,
		Bus:                   bus,
		Emitter:               emitter,
		ShutdownFunc:          shutdown,
		cancelBackgroundLoops: cancel,
	}, nil
}

// Shutdown stops background loops and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBackgroundLoops != nil {
		s.cancelBackgroundLoops()
	}
	if s.ShutdownFunc != nil {
		return s.ShutdownFunc(ctx)
	}
	return nil
}
