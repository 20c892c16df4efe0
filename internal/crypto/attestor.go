package crypto

import (
	"context"
	"log/slog"

	"github.com/cadencefi/dcad/internal/domain"
)

// Attestor signs an EIP-712 attestation for every settled execution so
// downstream consumers can verify settlements against the keeper's address.
// It consumes the telemetry stream; signing never blocks or fails the
// execution that produced the event.
type Attestor struct {
	signer *Signer
	logger *slog.Logger
}

// NewAttestor creates an Attestor over the given signer.
func NewAttestor(signer *Signer, logger *slog.Logger) *Attestor {
	return &Attestor{
		signer: signer,
		logger: logger.With(slog.String("component", "attestor")),
	}
}

// Emit signs settlement events and ignores everything else.
func (a *Attestor) Emit(ctx context.Context, ev domain.Event) {
	if ev.Name != domain.EventPositionExecuted {
		return
	}

	payload := SettlementPayload{
		PositionID: ev.PositionID,
		Period:     detailUint(ev.Detail, "periods"),
		Spent:      detailUint(ev.Detail, "spent"),
		Received:   detailUint(ev.Detail, "received"),
		Fees:       detailUint(ev.Detail, "fees"),
		ExecutedAt: ev.At.Unix(),
	}
	if v, ok := ev.Detail["venue"].(string); ok {
		payload.Venue = v
	}

	sig, err := a.signer.SignSettlement(payload)
	if err != nil {
		a.logger.ErrorContext(ctx, "settlement attestation failed",
			slog.Uint64("position_id", ev.PositionID),
			slog.String("error", err.Error()),
		)
		return
	}

	a.logger.InfoContext(ctx, "settlement attested",
		slog.Uint64("position_id", ev.PositionID),
		slog.Uint64("period", payload.Period),
		slog.String("signer", a.signer.Address().Hex()),
		slog.String("signature", sig),
	)
}

// detailUint reads a numeric detail value. Events journaled through JSON come
// back as float64.
func detailUint(detail map[string]any, key string) uint64 {
	switch v := detail[key].(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case int:
		return uint64(v)
	case float64:
		return uint64(v)
	default:
		return 0
	}
}

var _ domain.EventSink = (*Attestor)(nil)
