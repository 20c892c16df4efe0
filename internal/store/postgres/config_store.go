package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cadencefi/dcad/internal/domain"
)

// Config singleton row names.
const (
	configProtocol = "protocol"
	configFees     = "fees"
	configBreaker  = "breaker"
	configRouter   = "router"
)

// ConfigStore implements domain.ConfigStore using PostgreSQL. Each singleton
// is one JSONB row keyed by name so admin updates survive restarts.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new ConfigStore backed by the given connection pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

func (s *ConfigStore) save(ctx context.Context, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("postgres: marshal config %s: %w", name, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO configs (name, payload, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		name, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: save config %s: %w", name, err)
	}
	return nil
}

func (s *ConfigStore) load(ctx context.Context, name string, v any) error {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM configs WHERE name = $1`, name,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: load config %s: %w", name, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("postgres: unmarshal config %s: %w", name, err)
	}
	return nil
}

// SaveProtocol persists the protocol configuration singleton.
func (s *ConfigStore) SaveProtocol(ctx context.Context, cfg domain.ProtocolConfig) error {
	return s.save(ctx, configProtocol, cfg)
}

// LoadProtocol loads the protocol configuration singleton.
func (s *ConfigStore) LoadProtocol(ctx context.Context) (domain.ProtocolConfig, error) {
	var cfg domain.ProtocolConfig
	err := s.load(ctx, configProtocol, &cfg)
	return cfg, err
}

// SaveFees persists the fee-policy singleton.
func (s *ConfigStore) SaveFees(ctx context.Context, cfg domain.FeeConfig) error {
	return s.save(ctx, configFees, cfg)
}

// LoadFees loads the fee-policy singleton.
func (s *ConfigStore) LoadFees(ctx context.Context) (domain.FeeConfig, error) {
	var cfg domain.FeeConfig
	err := s.load(ctx, configFees, &cfg)
	return cfg, err
}

// SaveBreaker persists the circuit-breaker thresholds.
func (s *ConfigStore) SaveBreaker(ctx context.Context, cfg domain.BreakerConfig) error {
	return s.save(ctx, configBreaker, cfg)
}

// LoadBreaker loads the circuit-breaker thresholds.
func (s *ConfigStore) LoadBreaker(ctx context.Context) (domain.BreakerConfig, error) {
	var cfg domain.BreakerConfig
	err := s.load(ctx, configBreaker, &cfg)
	return cfg, err
}

// SaveRouter persists the venue-cascade policy.
func (s *ConfigStore) SaveRouter(ctx context.Context, cfg domain.RouterConfig) error {
	return s.save(ctx, configRouter, cfg)
}

// LoadRouter loads the venue-cascade policy.
func (s *ConfigStore) LoadRouter(ctx context.Context) (domain.RouterConfig, error) {
	var cfg domain.RouterConfig
	err := s.load(ctx, configRouter, &cfg)
	return cfg, err
}

// Compile-time interface check.
var _ domain.ConfigStore = (*ConfigStore)(nil)
