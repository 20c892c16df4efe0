package crypto

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
)

// recordHandler collects slog records for assertions.
type recordHandler struct {
	records *[]slog.Record
	attrs   []slog.Attr
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	r.AddAttrs(h.attrs...)
	*h.records = append(*h.records, r)
	return nil
}

func (h *recordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordHandler{records: h.records, attrs: append(h.attrs, attrs...)}
}

func (h *recordHandler) WithGroup(string) slog.Handler { return h }

func recordAttr(r slog.Record, key string) (slog.Value, bool) {
	var val slog.Value
	found := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			val = a.Value
			found = true
			return false
		}
		return true
	})
	return val, found
}

func TestAttestorSignsExecutedEvents(t *testing.T) {
	signer, err := NewSigner(testKeyHex, 1)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	var records []slog.Record
	a := NewAttestor(signer, slog.New(&recordHandler{records: &records}))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.Emit(context.Background(), domain.Event{
		Name:       domain.EventPositionExecuted,
		PositionID: 7,
		At:         at,
		Detail: map[string]any{
			"periods":  uint64(3),
			"spent":    uint64(100_000_000),
			"received": uint64(49_850_000_000_000_000),
			"fees":     uint64(150_000_000_000_000),
			"venue":    "amm",
		},
	})

	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	sigVal, ok := recordAttr(records[0], "signature")
	if !ok {
		t.Fatalf("no signature attr in %q", records[0].Message)
	}

	// The logged signature verifies against the same payload fields.
	recovered, err := VerifySettlement(SettlementPayload{
		PositionID: 7,
		Period:     3,
		Spent:      100_000_000,
		Received:   49_850_000_000_000_000,
		Fees:       150_000_000_000_000,
		Venue:      "amm",
		ExecutedAt: at.Unix(),
	}, sigVal.String(), 1)
	if err != nil {
		t.Fatalf("VerifySettlement: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestAttestorHandlesJournaledNumbers(t *testing.T) {
	signer, err := NewSigner(testKeyHex, 1)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	var records []slog.Record
	a := NewAttestor(signer, slog.New(&recordHandler{records: &records}))

	at := time.Unix(1_770_000_000, 0)
	// Events replayed from the JSON journal carry float64 details.
	a.Emit(context.Background(), domain.Event{
		Name:       domain.EventPositionExecuted,
		PositionID: 2,
		At:         at,
		Detail: map[string]any{
			"periods": float64(1),
			"spent":   float64(500),
			"venue":   "auction",
		},
	})

	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	sigVal, _ := recordAttr(records[0], "signature")
	recovered, err := VerifySettlement(SettlementPayload{
		PositionID: 2,
		Period:     1,
		Spent:      500,
		Venue:      "auction",
		ExecutedAt: at.Unix(),
	}, sigVal.String(), 1)
	if err != nil {
		t.Fatalf("VerifySettlement: %v", err)
	}
	if recovered != signer.Address() {
		t.Error("float64 details produced a different payload")
	}
}

func TestAttestorIgnoresOtherEvents(t *testing.T) {
	signer, err := NewSigner(testKeyHex, 1)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	var records []slog.Record
	a := NewAttestor(signer, slog.New(&recordHandler{records: &records}))

	for _, name := range []string{
		domain.EventPaused,
		domain.EventCircuitBreakerTriggered,
		domain.EventExecutionSkipped,
	} {
		a.Emit(context.Background(), domain.Event{Name: name, PositionID: 1, At: time.Now()})
	}

	for _, r := range records {
		if strings.Contains(r.Message, "attested") {
			t.Fatalf("non-settlement event attested: %q", r.Message)
		}
	}
}
