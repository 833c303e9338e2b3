package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "LabNexus/internal/errors"
)

// recorderNotifier 记录收到的事件，可按需失败。
type recorderNotifier struct {
	events []Event
	err    error
}

func (n *recorderNotifier) Name() string { return "recorder" }

func (n *recorderNotifier) Notify(ctx context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func TestDispatcherFansOut(t *testing.T) {
	first := &recorderNotifier{}
	second := &recorderNotifier{}
	d := NewDispatcher(first, nil, second)

	err := d.Notify(context.Background(), Event{
		Code:     xerrors.CodeInsufficientFunds,
		Message:  "balance below estimated cost",
		Severity: xerrors.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("event not delivered to every channel: %d/%d", len(first.events), len(second.events))
	}
	if first.events[0].OccurredAt.IsZero() {
		t.Fatalf("dispatcher must stamp the event time")
	}
}

func TestDispatcherCollectsChannelFailures(t *testing.T) {
	broken := &recorderNotifier{err: errors.New("channel down")}
	healthy := &recorderNotifier{}
	d := NewDispatcher(broken, healthy)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeLedgerUnavailable})
	if err == nil || !strings.Contains(err.Error(), "channel down") {
		t.Fatalf("expected joined channel error, got %v", err)
	}
	// 一个渠道失败不阻断其余渠道。
	if len(healthy.events) != 1 {
		t.Fatalf("healthy channel skipped: %d events", len(healthy.events))
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	if err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}); err != nil {
		t.Fatalf("nil dispatcher must be a no-op, got %v", err)
	}
}

func TestFromErrorKeepsCodeAndMetadata(t *testing.T) {
	cause := xerrors.New(xerrors.CodeInsufficientFunds, "账户余额不足",
		xerrors.WithMetadata("experiment_id", "exp_a1"))

	event := FromError(cause)
	if event.Code != xerrors.CodeInsufficientFunds {
		t.Fatalf("unexpected code: %s", event.Code)
	}
	if event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected severity: %s", event.Severity)
	}
	if event.Metadata["experiment_id"] != "exp_a1" {
		t.Fatalf("metadata lost: %v", event.Metadata)
	}
}

func TestWebhookNotifierPostsSummary(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	err := n.Notify(context.Background(), Event{
		Code:         xerrors.CodeInsufficientFunds,
		Message:      "balance below estimated cost",
		Severity:     xerrors.SeverityCritical,
		ExperimentID: "exp_a1",
		JobID:        "notary_1",
		Attempts:     3,
		MaxAttempts:  3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := got["text"]
	for _, want := range []string{"INSUFFICIENT_FUNDS", "exp_a1", "notary_1", "3/3"} {
		if !strings.Contains(text, want) {
			t.Fatalf("webhook text missing %q: %s", want, text)
		}
	}
}

func TestWebhookNotifierSurfacesRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeLedgerUnavailable}); err == nil {
		t.Fatalf("expected error for rejected webhook delivery")
	}
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	if n := NewWebhookNotifier("  "); n != nil {
		t.Fatalf("blank url must yield a nil notifier")
	}
}
