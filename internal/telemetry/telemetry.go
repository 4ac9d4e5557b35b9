// Package telemetry initializes OpenTelemetry tracing and fans out
// runtime events to every registered sink. Grounded on the teacher's
// telemetry.Init (OTLP gRPC tracer setup) and internal/notify/service.go's
// concurrent multi-driver dispatch, narrowed from "notify external
// channels about recipe runs" to "fan telemetry events out to whatever
// sinks the host registered" (log, OTEL span, webhook).
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/uicp/runtime/internal/config"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// Init sets up OpenTelemetry tracing with an OTLP gRPC exporter and
// returns a shutdown function to call on graceful teardown.
func Init(cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Info().Msg("opentelemetry disabled")
		return func(ctx context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", "0.1.0"),
		),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().Str("endpoint", cfg.OTLPEndpoint).Str("service", cfg.ServiceName).Msg("opentelemetry tracing initialized")

	return tp.Shutdown, nil
}

// Sink receives one telemetry event. Implementations must not block the
// emitter for long; a webhook sink is expected to apply its own timeout.
type Sink interface {
	Name() string
	Send(ctx context.Context, event uicp.TelemetryEvent) error
}

// Emitter subscribes to the runtime's event bus and dispatches every
// event to all registered sinks concurrently, the way DispatchAll fans a
// notification out to every MCP tool and channel at once.
type Emitter struct {
	bus    contracts.EventBus
	tracer trace.Tracer

	mu    sync.RWMutex
	sinks []Sink
}

// NewEmitter wires an emitter to the given bus. bus may be nil in tests
// that only want to exercise sinks directly via Dispatch.
func NewEmitter(bus contracts.EventBus) *Emitter {
	return &Emitter{bus: bus, tracer: otel.Tracer("uicp-runtime")}
}

// Register adds a sink. Safe to call concurrently with Run.
func (e *Emitter) Register(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Run subscribes to the bus and dispatches events until ctx is
// cancelled. Every event also opens and immediately ends a zero-duration
// OTEL span carrying the event kind and txn id, so traces collected
// downstream line up with the sink-delivered copies.
func (e *Emitter) Run(ctx context.Context) {
	if e.bus == nil {
		return
	}
	events, cancel := e.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.trace(ctx, ev)
			e.Dispatch(ctx, ev)
		}
	}
}

func (e *Emitter) trace(ctx context.Context, ev uicp.TelemetryEvent) {
	_, span := e.tracer.Start(ctx, string(ev.Kind), trace.WithAttributes(
		attribute.String("uicp.txn_id", ev.TxnID),
	))
	span.End()
}

// Dispatch sends one event to every registered sink concurrently and
// logs (but does not propagate) per-sink failures, matching the
// fire-and-forget contract the rest of the stack expects of telemetry.
func (e *Emitter) Dispatch(ctx context.Context, ev uicp.TelemetryEvent) {
	e.mu.RLock()
	sinks := make([]Sink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			if err := sink.Send(ctx, ev); err != nil {
				log.Warn().Err(err).Str("sink", sink.Name()).Str("kind", string(ev.Kind)).Msg("telemetry sink delivery failed")
			}
		}(s)
	}
	wg.Wait()
}

// LogSink writes each event as a structured log line. It is always safe
// to register and never fails.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, ev uicp.TelemetryEvent) error {
	log.Info().
		Str("kind", string(ev.Kind)).
		Str("txn", ev.TxnID).
		Time("ts", ev.Timestamp).
		Interface("payload", ev.Payload).
		Msg("telemetry")
	return nil
}
