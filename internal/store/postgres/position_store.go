package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cadencefi/dcad/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Balances
// are stored as NUMERIC(20,0) and moved through the driver as decimal strings
// so the full uint64 range survives the round trip.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner_addr, quote_asset, base_asset, direction, frequency,
	amount_per_period::text, start_at, end_at,
	beneficiary, referrer, slippage_bps, twap_window_secs, max_price_deviation_bps,
	price_floor_usd, price_cap_usd, venue_pref, mev, max_base_fee_gwei,
	quote_balance::text, base_balance::text, periods_executed, next_exec_at,
	paused, canceled, emergency_armed_at, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, common.Address, error) {
	var p domain.Position
	var id, periods int64
	var owner, direction, frequency, beneficiary, referrer, venue, mev string
	var amount, quoteBal, baseBal string
	var slippage, deviation int32
	var twapSecs int64
	var endAt, armedAt *time.Time

	err := row.Scan(
		&id, &owner, &p.QuoteAsset, &p.BaseAsset, &direction, &frequency,
		&amount, &p.StartAt, &endAt,
		&beneficiary, &referrer, &slippage, &twapSecs, &deviation,
		&p.PriceFloorUSD, &p.PriceCapUSD, &venue, &mev, &p.MaxBaseFeeGwei,
		&quoteBal, &baseBal, &periods, &p.NextExecAt,
		&p.Paused, &p.Canceled, &armedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, common.Address{}, err
	}

	p.ID = uint64(id)
	p.Direction = domain.Direction(direction)
	p.Frequency = domain.Frequency(frequency)
	p.Beneficiary = common.HexToAddress(beneficiary)
	if referrer != "" {
		p.Referrer = common.HexToAddress(referrer)
	}
	p.SlippageBps = uint32(slippage)
	p.TwapWindow = time.Duration(twapSecs) * time.Second
	p.MaxPriceDeviationBps = uint32(deviation)
	p.Venue = domain.VenuePreference(venue)
	p.MEV = domain.MEVPosture(mev)
	p.PeriodsExecuted = uint64(periods)
	if endAt != nil {
		p.EndAt = *endAt
	}
	if armedAt != nil {
		p.EmergencyArmedAt = *armedAt
	}

	if p.AmountPerPeriod, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return domain.Position{}, common.Address{}, fmt.Errorf("postgres: parse amount_per_period: %w", err)
	}
	if p.QuoteBalance, err = strconv.ParseUint(quoteBal, 10, 64); err != nil {
		return domain.Position{}, common.Address{}, fmt.Errorf("postgres: parse quote_balance: %w", err)
	}
	if p.BaseBalance, err = strconv.ParseUint(baseBal, 10, 64); err != nil {
		return domain.Position{}, common.Address{}, fmt.Errorf("postgres: parse base_balance: %w", err)
	}
	return p, common.HexToAddress(owner), nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, _, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func scanRecords(rows pgx.Rows) ([]domain.PositionRecord, error) {
	var records []domain.PositionRecord
	for rows.Next() {
		p, owner, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, domain.PositionRecord{Position: p, Owner: owner})
	}
	return records, rows.Err()
}

// Upsert inserts or replaces the snapshot for a position.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position, owner common.Address) error {
	const query = `
		INSERT INTO positions (
			id, owner_addr, quote_asset, base_asset, direction, frequency,
			amount_per_period, start_at, end_at,
			beneficiary, referrer, slippage_bps, twap_window_secs, max_price_deviation_bps,
			price_floor_usd, price_cap_usd, venue_pref, mev, max_base_fee_gwei,
			quote_balance, base_balance, periods_executed, next_exec_at,
			paused, canceled, emergency_armed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20::numeric, $21::numeric, $22, $23,
			$24, $25, $26, $27, $28
		)
		ON CONFLICT (id) DO UPDATE SET
			owner_addr              = EXCLUDED.owner_addr,
			beneficiary             = EXCLUDED.beneficiary,
			referrer                = EXCLUDED.referrer,
			slippage_bps            = EXCLUDED.slippage_bps,
			twap_window_secs        = EXCLUDED.twap_window_secs,
			max_price_deviation_bps = EXCLUDED.max_price_deviation_bps,
			price_floor_usd         = EXCLUDED.price_floor_usd,
			price_cap_usd           = EXCLUDED.price_cap_usd,
			venue_pref              = EXCLUDED.venue_pref,
			mev                     = EXCLUDED.mev,
			max_base_fee_gwei       = EXCLUDED.max_base_fee_gwei,
			quote_balance           = EXCLUDED.quote_balance,
			base_balance            = EXCLUDED.base_balance,
			periods_executed        = EXCLUDED.periods_executed,
			next_exec_at            = EXCLUDED.next_exec_at,
			paused                  = EXCLUDED.paused,
			canceled                = EXCLUDED.canceled,
			emergency_armed_at      = EXCLUDED.emergency_armed_at,
			updated_at              = EXCLUDED.updated_at`

	var endAt, armedAt *time.Time
	if !p.EndAt.IsZero() {
		endAt = &p.EndAt
	}
	if !p.EmergencyArmedAt.IsZero() {
		armedAt = &p.EmergencyArmedAt
	}
	referrer := ""
	if p.Referrer != (common.Address{}) {
		referrer = p.Referrer.Hex()
	}

	_, err := s.pool.Exec(ctx, query,
		int64(p.ID), owner.Hex(), p.QuoteAsset, p.BaseAsset, string(p.Direction), string(p.Frequency),
		strconv.FormatUint(p.AmountPerPeriod, 10), p.StartAt, endAt,
		p.Beneficiary.Hex(), referrer, int32(p.SlippageBps), int64(p.TwapWindow/time.Second), int32(p.MaxPriceDeviationBps),
		p.PriceFloorUSD, p.PriceCapUSD, string(p.Venue), string(p.MEV), p.MaxBaseFeeGwei,
		strconv.FormatUint(p.QuoteBalance, 10), strconv.FormatUint(p.BaseBalance, 10), int64(p.PeriodsExecuted), p.NextExecAt,
		p.Paused, p.Canceled, armedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %d: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position snapshot by its id.
func (s *PositionStore) GetByID(ctx context.Context, id uint64) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, int64(id))

	p, _, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

// ListAll returns every stored snapshot, live and canceled. Used to rebuild
// the in-memory ledger on startup.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return records, nil
}

// ListByOwner returns snapshots for the given owner with pagination and
// optional time filtering on creation.
func (s *PositionStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner_addr = $1`
	args := []any{owner.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by owner: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by owner: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
