package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionRecord pairs a position snapshot with its owner. Ownership lives
// in the certificate registry, so the stored snapshot carries the owner
// denormalized for rebuilds.
type PositionRecord struct {
	Position Position
	Owner    common.Address
}

// PositionStore persists position snapshots. The in-memory ledger is the
// system of record within the serialized host; the store is the durable
// mirror used for restarts and reporting.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position, owner common.Address) error
	GetByID(ctx context.Context, id uint64) (Position, error)
	ListAll(ctx context.Context) ([]PositionRecord, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]Position, error)
}

// EventStore persists the append-only telemetry journal.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// ConfigStore persists the protocol-wide configuration singletons so admin
// updates survive restarts.
type ConfigStore interface {
	SaveProtocol(ctx context.Context, cfg ProtocolConfig) error
	LoadProtocol(ctx context.Context) (ProtocolConfig, error)
	SaveFees(ctx context.Context, cfg FeeConfig) error
	LoadFees(ctx context.Context) (FeeConfig, error)
	SaveBreaker(ctx context.Context, cfg BreakerConfig) error
	LoadBreaker(ctx context.Context) (BreakerConfig, error)
	SaveRouter(ctx context.Context, cfg RouterConfig) error
	LoadRouter(ctx context.Context) (RouterConfig, error)
}
