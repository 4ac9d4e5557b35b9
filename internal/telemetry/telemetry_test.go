package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

type recordingSink struct {
	mu     sync.Mutex
	events []uicp.TelemetryEvent
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Send(_ context.Context, ev uicp.TelemetryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestEmitter_DispatchFansOutToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	e := NewEmitter(nil)
	e.Register(a)
	e.Register(b)

	e.Dispatch(context.Background(), uicp.TelemetryEvent{Kind: uicp.EventIntentCompleted, TxnID: "t1"})

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected both sinks to receive the event, got a=%d b=%d", a.count(), b.count())
	}
}

func TestEmitter_RunDeliversPublishedEvents(t *testing.T) {
	bus := contracts.NewCommunityEventBus()
	sink := &recordingSink{}
	e := NewEmitter(bus)
	e.Register(sink)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)

	bus.Publish(ctx, uicp.TelemetryEvent{Kind: uicp.EventNetGuardBlock, TxnID: "t2"})

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if sink.count() != 1 {
		t.Fatalf("expected 1 delivered event, got %d", sink.count())
	}
}

func TestWebhookSink_SignsAndDelivers(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-UICP-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "shh")
	err := sink.Send(context.Background(), uicp.TelemetryEvent{Kind: uicp.EventUIDebugLog, TxnID: "t3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSig == "" {
		t.Fatal("expected a signature header to be set")
	}
}

func TestWebhookSink_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "")
	if err := sink.Send(context.Background(), uicp.TelemetryEvent{Kind: uicp.EventNetGuardAttempt}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
