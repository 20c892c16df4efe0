package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
)

// Sink adapts a Notifier to the telemetry event stream. Delivery happens on
// a detached goroutine with its own timeout so a slow channel cannot stall
// the emitting operation.
type Sink struct {
	notifier *Notifier
	timeout  time.Duration
}

// NewSink wraps the notifier as an event sink.
func NewSink(n *Notifier) *Sink {
	return &Sink{
		notifier: n,
		timeout:  15 * time.Second,
	}
}

// Emit forwards the event to the notifier asynchronously. The notifier's own
// event filter decides whether anything is actually sent.
func (s *Sink) Emit(_ context.Context, ev domain.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.notifier.Notify(ctx, ev.Name, formatTitle(ev), formatBody(ev))
	}()
}

func formatTitle(ev domain.Event) string {
	if ev.PositionID != 0 {
		return fmt.Sprintf("%s (position %d)", ev.Name, ev.PositionID)
	}
	return ev.Name
}

// formatBody renders the detail map as sorted "key: value" lines so the
// message is stable across deliveries of the same event.
func formatBody(ev domain.Event) string {
	if len(ev.Detail) == 0 {
		return ev.At.UTC().Format(time.RFC3339)
	}

	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ev.At.UTC().Format(time.RFC3339))
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, ev.Detail[k])
	}
	return b.String()
}

var _ domain.EventSink = (*Sink)(nil)
