// Package ledger implements the position ledger: the system of record for
// recurring-execution positions, their balances, and their lifecycle. Every
// mutation is capability-gated, emits a telemetry event, and is mirrored to
// the durable position store.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
)

// Settlement is the outcome of a successful execution, written back by the
// engine. Spent has already been debited through Reserve; Received is net of
// Fees.
type Settlement struct {
	Spent    uint64
	Received uint64
	Fees     uint64
	Price    float64
	Venue    domain.Venue
	Executor common.Address
	Public   bool
	At       time.Time
}

// Ledger owns position records and enforces their invariants. All state is
// held in memory behind one mutex, matching the host model of serial, atomic
// application of every call; the position store is a durable mirror, not the
// source of truth.
type Ledger struct {
	mu        sync.Mutex
	clock     func() time.Time
	logger    *slog.Logger
	sink      domain.EventSink
	store     domain.PositionStore // optional durable mirror
	certs     domain.CertificateRegistry
	caps      domain.Capabilities
	positions map[uint64]*domain.Position
	owners    *ownerIndex
	nextID    uint64
	active    int
	cfg       domain.ProtocolConfig
}

// New creates a Ledger with the given collaborators. store may be nil when
// running without persistence (tests, dry runs).
func New(
	cfg domain.ProtocolConfig,
	certs domain.CertificateRegistry,
	store domain.PositionStore,
	sink domain.EventSink,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "ledger")),
		sink:      sink,
		store:     store,
		certs:     certs,
		caps:      domain.DefaultCapabilities(),
		positions: make(map[uint64]*domain.Position),
		owners:    newOwnerIndex(),
		nextID:    1,
		cfg:       cfg,
	}
}

// SetClock replaces the time source. Must be called before the ledger is
// shared; intended for tests.
func (l *Ledger) SetClock(fn func() time.Time) {
	l.clock = fn
}

// Restore rehydrates the ledger from stored snapshots. Certificates are
// re-minted for live positions; canceled snapshots only advance the id
// counter so their ids are never reissued. Must be called before the ledger
// is shared.
func (l *Ledger) Restore(records []domain.PositionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range records {
		pos := rec.Position
		if pos.ID >= l.nextID {
			l.nextID = pos.ID + 1
		}
		if pos.Canceled {
			continue
		}
		if err := l.certs.Mint(pos.ID, rec.Owner); err != nil {
			return fmt.Errorf("ledger: restore position %d: %w", pos.ID, err)
		}
		p := pos
		l.positions[pos.ID] = &p
		l.owners.add(rec.Owner, pos.ID)
		l.active++
	}
	return nil
}

// OnCertificateTransfer keeps the reverse owner index consistent when a
// certificate changes hands in the external registry. Wire this as the
// registry's transfer listener.
func (l *Ledger) OnCertificateTransfer(id uint64, from, to common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[id]; !ok {
		return
	}
	l.owners.move(id, to)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Create validates params, assigns an id, opens the ownership certificate,
// and schedules the first execution at StartAt.
func (l *Ledger) Create(ctx context.Context, caller common.Address, params domain.CreateParams) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validateCreate(caller, params); err != nil {
		return 0, err
	}

	now := l.clock()
	id := l.nextID
	l.nextID++

	pos := &domain.Position{
		ID:              id,
		QuoteAsset:      params.QuoteAsset,
		BaseAsset:       params.BaseAsset,
		Direction:       params.Direction,
		Frequency:       params.Frequency,
		AmountPerPeriod: params.AmountPerPeriod,
		StartAt:         params.StartAt,
		EndAt:           params.EndAt,

		Beneficiary:          params.Beneficiary,
		Referrer:             params.Referrer,
		SlippageBps:          params.SlippageBps,
		TwapWindow:           params.TwapWindow,
		MaxPriceDeviationBps: params.MaxPriceDeviationBps,
		PriceFloorUSD:        params.PriceFloorUSD,
		PriceCapUSD:          params.PriceCapUSD,
		Venue:                params.Venue,
		MEV:                  params.MEV,
		MaxBaseFeeGwei:       params.MaxBaseFeeGwei,

		NextExecAt: params.StartAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := l.certs.Mint(id, params.Owner); err != nil {
		return 0, fmt.Errorf("ledger: mint certificate: %w", err)
	}
	l.positions[id] = pos
	l.owners.add(params.Owner, id)
	l.active++

	l.persist(ctx, pos)
	l.emit(ctx, domain.Event{
		Name:       domain.EventPositionCreated,
		At:         now,
		PositionID: id,
		Detail: map[string]any{
			"owner":      params.Owner.Hex(),
			"pair":       pos.Pair(),
			"direction":  string(pos.Direction),
			"frequency":  string(pos.Frequency),
			"amount":     pos.AmountPerPeriod,
			"start_at":   pos.StartAt,
			"venue_pref": string(pos.Venue),
		},
	})
	return id, nil
}

func (l *Ledger) validateCreate(caller common.Address, params domain.CreateParams) error {
	if params.AmountPerPeriod == 0 {
		return fmt.Errorf("%w: per-period amount must be positive", domain.ErrInvalidParameter)
	}
	if !params.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidParameter, params.Direction)
	}
	if !params.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", domain.ErrInvalidParameter, params.Frequency)
	}
	if !params.Venue.Valid() {
		return fmt.Errorf("%w: unknown venue preference %q", domain.ErrInvalidParameter, params.Venue)
	}
	if params.MEV != domain.MEVPrivate && params.MEV != domain.MEVPublic {
		return fmt.Errorf("%w: unknown mev posture %q", domain.ErrInvalidParameter, params.MEV)
	}
	if params.QuoteAsset == params.BaseAsset {
		return fmt.Errorf("%w: quote and base asset must differ", domain.ErrInvalidParameter)
	}
	if _, ok := l.cfg.AssetBySymbol(params.QuoteAsset); !ok {
		return fmt.Errorf("%w: unknown quote asset %q", domain.ErrInvalidParameter, params.QuoteAsset)
	}
	if _, ok := l.cfg.AssetBySymbol(params.BaseAsset); !ok {
		return fmt.Errorf("%w: unknown base asset %q", domain.ErrInvalidParameter, params.BaseAsset)
	}
	if params.StartAt.IsZero() {
		return fmt.Errorf("%w: start time required", domain.ErrInvalidParameter)
	}
	if !params.EndAt.IsZero() && !params.EndAt.After(params.StartAt) {
		return fmt.Errorf("%w: schedule bounds inverted", domain.ErrInvalidParameter)
	}
	if params.SlippageBps >= 10_000 {
		return fmt.Errorf("%w: slippage bps out of range", domain.ErrInvalidParameter)
	}
	if params.TwapWindow < l.cfg.MinTwapWindow {
		return fmt.Errorf("%w: twap window below minimum %s", domain.ErrInvalidParameter, l.cfg.MinTwapWindow)
	}
	if l.cfg.MaxPositions > 0 && l.active >= l.cfg.MaxPositions {
		return fmt.Errorf("%w: global position ceiling reached", domain.ErrInvalidParameter)
	}
	if l.cfg.MaxPositionsPerOwner > 0 && l.owners.count(params.Owner) >= l.cfg.MaxPositionsPerOwner {
		return fmt.Errorf("%w: per-owner position ceiling reached", domain.ErrInvalidParameter)
	}
	if params.Beneficiary == (common.Address{}) {
		return fmt.Errorf("%w: beneficiary required", domain.ErrInvalidParameter)
	}
	if params.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner required", domain.ErrInvalidParameter)
	}
	return nil
}

// Modify replaces the mutable guard/venue/fee-routing fields of a position.
// Identity fields cannot be expressed in Update; attempts to change them must
// go through cancel and recreate.
func (l *Ledger) Modify(ctx context.Context, caller common.Address, id uint64, upd domain.Update) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.mutable(caller, domain.OpModify, id)
	if err != nil {
		return err
	}

	if upd.SlippageBps != nil && *upd.SlippageBps >= 10_000 {
		return fmt.Errorf("%w: slippage bps out of range", domain.ErrInvalidParameter)
	}
	if upd.TwapWindow != nil && *upd.TwapWindow < l.cfg.MinTwapWindow {
		return fmt.Errorf("%w: twap window below minimum %s", domain.ErrInvalidParameter, l.cfg.MinTwapWindow)
	}
	if upd.Venue != nil && !upd.Venue.Valid() {
		return fmt.Errorf("%w: unknown venue preference %q", domain.ErrInvalidParameter, *upd.Venue)
	}
	if upd.Beneficiary != nil && *upd.Beneficiary == (common.Address{}) {
		return fmt.Errorf("%w: beneficiary required", domain.ErrInvalidParameter)
	}

	if upd.Beneficiary != nil {
		pos.Beneficiary = *upd.Beneficiary
	}
	if upd.Referrer != nil {
		pos.Referrer = *upd.Referrer
	}
	if upd.SlippageBps != nil {
		pos.SlippageBps = *upd.SlippageBps
	}
	if upd.TwapWindow != nil {
		pos.TwapWindow = *upd.TwapWindow
	}
	if upd.MaxPriceDeviationBps != nil {
		pos.MaxPriceDeviationBps = *upd.MaxPriceDeviationBps
	}
	if upd.PriceFloorUSD != nil {
		pos.PriceFloorUSD = *upd.PriceFloorUSD
	}
	if upd.PriceCapUSD != nil {
		pos.PriceCapUSD = *upd.PriceCapUSD
	}
	if upd.Venue != nil {
		pos.Venue = *upd.Venue
	}
	if upd.MEV != nil {
		pos.MEV = *upd.MEV
	}
	if upd.MaxBaseFeeGwei != nil {
		pos.MaxBaseFeeGwei = *upd.MaxBaseFeeGwei
	}
	pos.UpdatedAt = l.clock()

	l.persist(ctx, pos)
	l.emit(ctx, domain.Event{
		Name:       domain.EventPositionModified,
		At:         pos.UpdatedAt,
		PositionID: id,
	})
	return nil
}

// Pause sets the paused flag. Pausing an already-paused position is a no-op.
func (l *Ledger) Pause(ctx context.Context, caller common.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.mutable(caller, domain.OpPause, id)
	if err != nil {
		return err
	}
	if pos.Paused {
		return nil
	}
	pos.Paused = true
	pos.UpdatedAt = l.clock()

	l.persist(ctx, pos)
	l.emit(ctx, domain.Event{Name: domain.EventPaused, At: pos.UpdatedAt, PositionID: id})
	return nil
}

// Resume clears the paused flag, disarms any pending emergency withdrawal,
// and recomputes the next execution slot so it is never in the past.
func (l *Ledger) Resume(ctx context.Context, caller common.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.mutable(caller, domain.OpResume, id)
	if err != nil {
		return err
	}
	if !pos.Paused {
		return fmt.Errorf("ledger: position %d: %w", id, domain.ErrNotPaused)
	}

	now := l.clock()
	pos.Paused = false
	pos.EmergencyArmedAt = time.Time{}
	pos.NextExecAt = nextSlotAtOrAfter(pos.NextExecAt, pos.Frequency, now)
	pos.UpdatedAt = now

	l.persist(ctx, pos)
	l.emit(ctx, domain.Event{
		Name:       domain.EventResumed,
		At:         now,
		PositionID: id,
		Detail:     map[string]any{"next_exec_at": pos.NextExecAt},
	})
	return nil
}

// Cancel refunds all idle balances to the beneficiary, releases the
// ownership certificate, and marks the position terminally canceled.
func (l *Ledger) Cancel(ctx context.Context, caller common.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.mutable(caller, domain.OpCancel, id)
	if err != nil {
		return err
	}
	l.cancelLocked(ctx, pos, domain.EventCanceled)
	return nil
}

// cancelLocked performs the shared cancel path. The caller holds l.mu and
// has already authorized the operation.
func (l *Ledger) cancelLocked(ctx context.Context, pos *domain.Position, event string) {
	now := l.clock()
	refundQuote, refundBase := pos.QuoteBalance, pos.BaseBalance
	pos.QuoteBalance = 0
	pos.BaseBalance = 0
	pos.Canceled = true
	pos.Paused = false
	pos.EmergencyArmedAt = time.Time{}
	pos.UpdatedAt = now

	// Snapshot before the owner index entry disappears so the stored record
	// keeps its last owner.
	l.persist(ctx, pos)

	if err := l.certs.Burn(pos.ID); err != nil {
		l.logger.ErrorContext(ctx, "certificate burn failed",
			slog.Uint64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	l.owners.remove(pos.ID)
	l.active--
	l.emit(ctx, domain.Event{
		Name:       event,
		At:         now,
		PositionID: pos.ID,
		Detail: map[string]any{
			"beneficiary":  pos.Beneficiary.Hex(),
			"refund_quote": refundQuote,
			"refund_base":  refundBase,
		},
	})
}

// ---------------------------------------------------------------------------
// Balances
// ---------------------------------------------------------------------------

// Deposit credits the idle balance of the given asset. Any principal may
// fund any live position.
func (l *Ledger) Deposit(ctx context.Context, caller common.Address, id uint64, asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.mutable(caller, domain.OpDeposit, id)
	if err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidParameter)
	}
	if err := l.adjust(pos, asset, amount, true); err != nil {
		return err
	}
	pos.UpdatedAt = l.clock()

	l.persist(ctx, pos)
	l.emit(ctx, domain.Event{
		Name:       domain.EventDeposited,
		At:         pos.UpdatedAt,
		PositionID: id,
		Detail:     map[string]any{"asset": asset, "amount": amount, "from": caller.Hex()},
	})
	return nil
}

// Withdraw debits the idle balance of the given asset and records the
// destination. Only the owner may withdraw.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address, id uint64, asset string, amount uint64, to common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.mutable(caller, domain.OpWithdraw, id)
	if err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: withdraw amount must be positive", domain.ErrInvalidParameter)
	}
	if err := l.adjust(pos, asset, amount, false); err != nil {
		return err
	}
	pos.UpdatedAt = l.clock()

	l.persist(ctx, pos)
	l.emit(ctx, domain.Event{
		Name:       domain.EventWithdrawn,
		At:         pos.UpdatedAt,
		PositionID: id,
		Detail:     map[string]any{"asset": asset, "amount": amount, "to": to.Hex()},
	})
	return nil
}

func (l *Ledger) adjust(pos *domain.Position, asset string, amount uint64, credit bool) error {
	var bal *uint64
	switch asset {
	case pos.QuoteAsset:
		bal = &pos.QuoteBalance
	case pos.BaseAsset:
		bal = &pos.BaseBalance
	default:
		return fmt.Errorf("%w: asset %q not part of position %d", domain.ErrInvalidParameter, asset, pos.ID)
	}

	var next uint64
	var err error
	if credit {
		next, err = domain.AddAmount(*bal, amount)
	} else {
		next, err = domain.SubAmount(*bal, amount)
	}
	if err != nil {
		return fmt.Errorf("ledger: position %d %s balance: %w", pos.ID, asset, err)
	}
	*bal = next
	return nil
}

// ---------------------------------------------------------------------------
// Emergency withdrawal: Unarmed -> Armed(timestamp) -> Completed
// ---------------------------------------------------------------------------

// EmergencyArm starts the delayed emergency-withdrawal protocol. The position
// must already be paused.
func (l *Ledger) EmergencyArm(ctx context.Context, caller common.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.mutable(caller, domain.OpEmergencyArm, id)
	if err != nil {
		return err
	}
	if !pos.Paused {
		return fmt.Errorf("ledger: position %d: %w", id, domain.ErrNotPaused)
	}

	now := l.clock()
	pos.EmergencyArmedAt = now
	pos.UpdatedAt = now

	l.persist(ctx, pos)
	l.emit(ctx, domain.Event{
		Name:       domain.EventEmergencyArmed,
		At:         now,
		PositionID: id,
		Detail:     map[string]any{"unlocks_at": now.Add(l.cfg.EmergencyDelay)},
	})
	return nil
}

// EmergencyComplete transfers all idle balances to the beneficiary and
// forcibly cancels, once the configured delay has elapsed since arming.
func (l *Ledger) EmergencyComplete(ctx context.Context, caller common.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.mutable(caller, domain.OpEmergencyComplete, id)
	if err != nil {
		return err
	}
	if pos.EmergencyArmedAt.IsZero() {
		return fmt.Errorf("ledger: position %d: %w", id, domain.ErrNotArmed)
	}
	if l.clock().Before(pos.EmergencyArmedAt.Add(l.cfg.EmergencyDelay)) {
		return fmt.Errorf("ledger: position %d: %w", id, domain.ErrDelayNotElapsed)
	}
	l.cancelLocked(ctx, pos, domain.EventEmergencyWithdrawn)
	return nil
}

// ---------------------------------------------------------------------------
// Settlement (engine-only)
// ---------------------------------------------------------------------------

// Reserve debits the spend-asset balance ahead of a swap so all observable
// state mutation is committed before any external adapter runs.
func (l *Ledger) Reserve(ctx context.Context, id uint64, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.live(id)
	if err != nil {
		return err
	}
	return l.adjust(pos, pos.SpendAsset(), amount, false)
}

// Release returns a previously reserved amount after a failed swap.
func (l *Ledger) Release(ctx context.Context, id uint64, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.live(id)
	if err != nil {
		return err
	}
	return l.adjust(pos, pos.SpendAsset(), amount, true)
}

// ApplySettlement writes back a completed execution: it credits the received
// asset (already net of fees), increments the period counter, and advances
// the schedule one interval from the previous slot so repeated executions
// never drift. When executions were missed, whole intervals are skipped until
// the next slot is at or after the settlement time.
func (l *Ledger) ApplySettlement(ctx context.Context, id uint64, s Settlement) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.live(id)
	if err != nil {
		return err
	}

	if err := l.adjust(pos, pos.ReceiveAsset(), s.Received, true); err != nil {
		return err
	}
	pos.PeriodsExecuted++

	next := pos.Frequency.Next(pos.NextExecAt)
	for next.Before(s.At) {
		next = pos.Frequency.Next(next)
	}
	pos.NextExecAt = next
	pos.UpdatedAt = s.At

	l.persist(ctx, pos)
	l.emit(ctx, domain.Event{
		Name:       domain.EventPositionExecuted,
		At:         s.At,
		PositionID: id,
		Detail: map[string]any{
			"spent":        s.Spent,
			"received":     s.Received,
			"fees":         s.Fees,
			"price":        s.Price,
			"venue":        string(s.Venue),
			"executor":     s.Executor.Hex(),
			"public":       s.Public,
			"periods":      pos.PeriodsExecuted,
			"next_exec_at": pos.NextExecAt,
		},
	})
	return nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Get returns a copy of the position.
func (l *Ledger) Get(id uint64) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: position %d: %w", id, domain.ErrNotFound)
	}
	return *pos, nil
}

// Owner resolves the current owner through the certificate registry.
func (l *Ledger) Owner(id uint64) (common.Address, error) {
	return l.certs.OwnerOf(id)
}

// PositionsByOwner enumerates the ids currently owned by owner.
func (l *Ledger) PositionsByOwner(owner common.Address) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owners.byOwner(owner)
}

// PendingExecutions returns the ids that are due, unpaused, funded, and
// within their schedule window at the given time. The global pause is not
// consulted here; the engine owns that verdict.
func (l *Ledger) PendingExecutions(now time.Time) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var due []uint64
	for id, pos := range l.positions {
		if pos.Canceled || pos.Paused {
			continue
		}
		if now.Before(pos.NextExecAt) {
			continue
		}
		if !pos.EndAt.IsZero() && now.After(pos.EndAt) {
			continue
		}
		if pos.IdleBalance(pos.SpendAsset()) < pos.AmountPerPeriod {
			continue
		}
		due = append(due, id)
	}
	return due
}

// Config returns a copy of the protocol configuration singleton.
func (l *Ledger) Config() domain.ProtocolConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

// SetProtocolConfig replaces the protocol configuration. Admin capability
// required.
func (l *Ledger) SetProtocolConfig(ctx context.Context, caller common.Address, cfg domain.ProtocolConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.IsAdmin(caller) {
		return fmt.Errorf("ledger: set protocol config: %w", domain.ErrUnauthorized)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.cfg = cfg

	l.emit(ctx, domain.Event{Name: domain.EventProtocolConfigUpdated, At: l.clock()})
	return nil
}

// SetKeepers replaces the primary keeper registry. Admin capability required.
func (l *Ledger) SetKeepers(ctx context.Context, caller common.Address, keepers []common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.IsAdmin(caller) {
		return fmt.Errorf("ledger: set keepers: %w", domain.ErrUnauthorized)
	}
	set := make(map[common.Address]bool, len(keepers))
	for _, k := range keepers {
		set[k] = true
	}
	l.cfg.Keepers = set

	l.emit(ctx, domain.Event{
		Name:   domain.EventKeeperRegistryUpdated,
		At:     l.clock(),
		Detail: map[string]any{"count": len(set)},
	})
	return nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// mutable authorizes op for caller and returns the live position. Canceled
// positions reject every mutation with ErrAlreadyCanceled.
func (l *Ledger) mutable(caller common.Address, op domain.Operation, id uint64) (*domain.Position, error) {
	pos, err := l.live(id)
	if err != nil {
		return nil, err
	}
	owner, err := l.certs.OwnerOf(id)
	if err != nil {
		return nil, fmt.Errorf("ledger: resolve owner of %d: %w", id, err)
	}
	roles := domain.RolesFor(caller, owner, &l.cfg)
	if !l.caps.Allow(op, roles...) {
		return nil, fmt.Errorf("ledger: %s on position %d: %w", op, id, domain.ErrUnauthorized)
	}
	return pos, nil
}

func (l *Ledger) live(id uint64) (*domain.Position, error) {
	pos, ok := l.positions[id]
	if !ok {
		return nil, fmt.Errorf("ledger: position %d: %w", id, domain.ErrNotFound)
	}
	if pos.Canceled {
		return nil, fmt.Errorf("ledger: position %d: %w", id, domain.ErrAlreadyCanceled)
	}
	return pos, nil
}

// persist mirrors the position to the durable store. The in-memory record is
// authoritative, so store failures are logged rather than propagated.
func (l *Ledger) persist(ctx context.Context, pos *domain.Position) {
	if l.store == nil {
		return
	}
	if err := l.store.Upsert(ctx, *pos, l.owners.ownerOf(pos.ID)); err != nil {
		l.logger.ErrorContext(ctx, "position snapshot failed",
			slog.Uint64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) emit(ctx context.Context, ev domain.Event) {
	if l.sink != nil {
		l.sink.Emit(ctx, ev)
	}
}

// nextSlotAtOrAfter steps from the current slot in whole intervals until the
// result is at or after now.
func nextSlotAtOrAfter(slot time.Time, freq domain.Frequency, now time.Time) time.Time {
	for slot.Before(now) {
		slot = freq.Next(slot)
	}
	return slot
}
