package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/server/middleware"
)

// ProtocolService is the admin surface of the ledger.
type ProtocolService interface {
	Config() domain.ProtocolConfig
	SetProtocolConfig(ctx context.Context, caller common.Address, cfg domain.ProtocolConfig) error
	SetKeepers(ctx context.Context, caller common.Address, keepers []common.Address) error
}

// FeeService is the admin surface of the fee calculator.
type FeeService interface {
	Config() domain.FeeConfig
	SetConfig(ctx context.Context, cfg domain.FeeConfig) error
}

// BreakerService is the admin surface of the circuit breaker.
type BreakerService interface {
	Tripped() bool
	Reason() string
	Config() domain.BreakerConfig
	SetConfig(cfg domain.BreakerConfig)
	Reset(ctx context.Context)
}

// RouterService is the admin surface of the venue selector.
type RouterService interface {
	Config() domain.RouterConfig
	SetConfig(cfg domain.RouterConfig)
}

// AdminHandler serves the protocol administration endpoints. Every mutation
// requires the caller to hold the admin capability; reads are open to any
// authenticated principal. Accepted changes are mirrored into the config
// store when one is attached.
type AdminHandler struct {
	protocol ProtocolService
	fees     FeeService
	breaker  BreakerService
	router   RouterService      // optional, absent in read-only processes
	store    domain.ConfigStore // optional
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. router and store may be nil.
func NewAdminHandler(protocol ProtocolService, fees FeeService, breaker BreakerService, router RouterService, store domain.ConfigStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		protocol: protocol,
		fees:     fees,
		breaker:  breaker,
		router:   router,
		store:    store,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// requireAdmin rejects callers without the admin capability.
func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller := middleware.Principal(r.Context())
	cfg := h.protocol.Config()
	if !cfg.IsAdmin(caller) {
		writeError(w, http.StatusForbidden, "admin capability required")
		return caller, false
	}
	return caller, true
}

// protocolView is the JSON rendering of the protocol config.
type protocolView struct {
	MaxPositionsPerOwner int      `json:"max_positions_per_owner"`
	MaxPositions         int      `json:"max_positions"`
	MaxOracleStaleSecs   int64    `json:"max_oracle_staleness_secs"`
	MinTwapWindowSecs    int64    `json:"min_twap_window_secs"`
	DepegThresholdBps    uint32   `json:"depeg_threshold_bps"`
	EmergencyDelaySecs   int64    `json:"emergency_delay_secs"`
	GracePeriodSecs      int64    `json:"grace_period_secs"`
	Paused               bool     `json:"paused"`
	Treasury             string   `json:"treasury"`
	Admins               []string `json:"admins"`
	Keepers              []string `json:"keepers"`
	Assets               []string `json:"assets"`
}

func renderProtocol(cfg domain.ProtocolConfig) protocolView {
	v := protocolView{
		MaxPositionsPerOwner: cfg.MaxPositionsPerOwner,
		MaxPositions:         cfg.MaxPositions,
		MaxOracleStaleSecs:   int64(cfg.MaxOracleStaleness / time.Second),
		MinTwapWindowSecs:    int64(cfg.MinTwapWindow / time.Second),
		DepegThresholdBps:    cfg.DepegThresholdBps,
		EmergencyDelaySecs:   int64(cfg.EmergencyDelay / time.Second),
		GracePeriodSecs:      int64(cfg.GracePeriod / time.Second),
		Paused:               cfg.Paused,
		Treasury:             cfg.Treasury.Hex(),
	}
	for a := range cfg.Admins {
		v.Admins = append(v.Admins, a.Hex())
	}
	for k := range cfg.Keepers {
		v.Keepers = append(v.Keepers, k.Hex())
	}
	for s := range cfg.Assets {
		v.Assets = append(v.Assets, s)
	}
	sort.Strings(v.Admins)
	sort.Strings(v.Keepers)
	sort.Strings(v.Assets)
	return v
}

// GetConfig returns the current protocol config.
// GET /api/admin/config
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, renderProtocol(h.protocol.Config()))
}

// updateConfigRequest carries the mutable protocol scalars. Absent fields
// keep their current value. Capability sets and the asset registry are
// managed through their own endpoints.
type updateConfigRequest struct {
	MaxPositionsPerOwner *int    `json:"max_positions_per_owner,omitempty"`
	MaxPositions         *int    `json:"max_positions,omitempty"`
	MaxOracleStaleSecs   *int64  `json:"max_oracle_staleness_secs,omitempty"`
	MinTwapWindowSecs    *int64  `json:"min_twap_window_secs,omitempty"`
	DepegThresholdBps    *uint32 `json:"depeg_threshold_bps,omitempty"`
	EmergencyDelaySecs   *int64  `json:"emergency_delay_secs,omitempty"`
	GracePeriodSecs      *int64  `json:"grace_period_secs,omitempty"`
	Paused               *bool   `json:"paused,omitempty"`
	Treasury             *string `json:"treasury,omitempty"`
}

// UpdateConfig replaces the mutable protocol scalars.
// PUT /api/admin/config
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req updateConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := h.protocol.Config()
	if req.MaxPositionsPerOwner != nil {
		cfg.MaxPositionsPerOwner = *req.MaxPositionsPerOwner
	}
	if req.MaxPositions != nil {
		cfg.MaxPositions = *req.MaxPositions
	}
	if req.MaxOracleStaleSecs != nil {
		cfg.MaxOracleStaleness = time.Duration(*req.MaxOracleStaleSecs) * time.Second
	}
	if req.MinTwapWindowSecs != nil {
		cfg.MinTwapWindow = time.Duration(*req.MinTwapWindowSecs) * time.Second
	}
	if req.DepegThresholdBps != nil {
		cfg.DepegThresholdBps = *req.DepegThresholdBps
	}
	if req.EmergencyDelaySecs != nil {
		cfg.EmergencyDelay = time.Duration(*req.EmergencyDelaySecs) * time.Second
	}
	if req.GracePeriodSecs != nil {
		cfg.GracePeriod = time.Duration(*req.GracePeriodSecs) * time.Second
	}
	if req.Paused != nil {
		cfg.Paused = *req.Paused
	}
	if req.Treasury != nil {
		addr, err := parseAddress(*req.Treasury)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Treasury = addr
	}

	if err := h.protocol.SetProtocolConfig(r.Context(), caller, cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	h.persistProtocol(r.Context())

	writeJSON(w, http.StatusOK, renderProtocol(h.protocol.Config()))
}

// UpdateKeepers replaces the primary keeper set.
// PUT /api/admin/keepers
func (h *AdminHandler) UpdateKeepers(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req struct {
		Keepers []string `json:"keepers"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	keepers := make([]common.Address, 0, len(req.Keepers))
	for _, s := range req.Keepers {
		addr, err := parseAddress(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		keepers = append(keepers, addr)
	}

	if err := h.protocol.SetKeepers(r.Context(), caller, keepers); err != nil {
		writeDomainError(w, err)
		return
	}
	h.persistProtocol(r.Context())

	writeJSON(w, http.StatusOK, renderProtocol(h.protocol.Config()))
}

// feeView mirrors domain.FeeConfig in JSON.
type feeView struct {
	Tiers []struct {
		NotionalCeiling uint64 `json:"notional_ceiling,string"`
		Bps             uint32 `json:"bps"`
	} `json:"tiers"`
	ExecutionFeeBps  uint32 `json:"execution_fee_bps"`
	ExecutionFeeFlat uint64 `json:"execution_fee_flat,string"`
	GasPremiumBps    uint32 `json:"gas_premium_bps"`
	ReferralBps      uint32 `json:"referral_bps"`
	ReferralMode     string `json:"referral_mode"`
	PublicTipBps     uint32 `json:"public_tip_bps"`
	PublicTipCap     uint64 `json:"public_tip_cap,string"`
}

func renderFees(cfg domain.FeeConfig) feeView {
	v := feeView{
		ExecutionFeeBps:  cfg.ExecutionFeeBps,
		ExecutionFeeFlat: cfg.ExecutionFeeFlat,
		GasPremiumBps:    cfg.GasPremiumBps,
		ReferralBps:      cfg.ReferralBps,
		ReferralMode:     string(cfg.ReferralMode),
		PublicTipBps:     cfg.PublicTipBps,
		PublicTipCap:     cfg.PublicTipCap,
	}
	for _, t := range cfg.Tiers {
		v.Tiers = append(v.Tiers, struct {
			NotionalCeiling uint64 `json:"notional_ceiling,string"`
			Bps             uint32 `json:"bps"`
		}{t.NotionalCeiling, t.Bps})
	}
	return v
}

// GetFees returns the current fee policy.
// GET /api/admin/fees
func (h *AdminHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, renderFees(h.fees.Config()))
}

// UpdateFees replaces the fee policy.
// PUT /api/admin/fees
func (h *AdminHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	var req feeView
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := domain.FeeConfig{
		ExecutionFeeBps:  req.ExecutionFeeBps,
		ExecutionFeeFlat: req.ExecutionFeeFlat,
		GasPremiumBps:    req.GasPremiumBps,
		ReferralBps:      req.ReferralBps,
		ReferralMode:     domain.ReferralMode(req.ReferralMode),
		PublicTipBps:     req.PublicTipBps,
		PublicTipCap:     req.PublicTipCap,
	}
	for _, t := range req.Tiers {
		cfg.Tiers = append(cfg.Tiers, domain.FeeTier{
			NotionalCeiling: t.NotionalCeiling,
			Bps:             t.Bps,
		})
	}

	if err := h.fees.SetConfig(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.store != nil {
		if err := h.store.SaveFees(r.Context(), cfg); err != nil {
			h.logger.ErrorContext(r.Context(), "fee config persist failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, renderFees(h.fees.Config()))
}

// breakerView is the breaker status plus thresholds.
type breakerView struct {
	Tripped         bool   `json:"tripped"`
	Reason          string `json:"reason,omitempty"`
	VolumeWindow    int64  `json:"volume_window_secs"`
	MaxWindowVolume uint64 `json:"max_window_volume,string"`
	PriceWindow     int64  `json:"price_window_secs"`
	MaxMoveBps      uint32 `json:"max_move_bps"`
}

func (h *AdminHandler) renderBreaker() breakerView {
	cfg := h.breaker.Config()
	return breakerView{
		Tripped:         h.breaker.Tripped(),
		Reason:          h.breaker.Reason(),
		VolumeWindow:    int64(cfg.VolumeWindow / time.Second),
		MaxWindowVolume: cfg.MaxWindowVolume,
		PriceWindow:     int64(cfg.PriceWindow / time.Second),
		MaxMoveBps:      cfg.MaxMoveBps,
	}
}

// GetBreaker returns the breaker status and thresholds.
// GET /api/admin/breaker
func (h *AdminHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.renderBreaker())
}

// UpdateBreaker replaces the breaker thresholds. A latched trip stays
// latched; only Reset clears it.
// PUT /api/admin/breaker
func (h *AdminHandler) UpdateBreaker(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	var req struct {
		VolumeWindow    int64  `json:"volume_window_secs"`
		MaxWindowVolume uint64 `json:"max_window_volume,string"`
		PriceWindow     int64  `json:"price_window_secs"`
		MaxMoveBps      uint32 `json:"max_move_bps"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := domain.BreakerConfig{
		VolumeWindow:    time.Duration(req.VolumeWindow) * time.Second,
		MaxWindowVolume: req.MaxWindowVolume,
		PriceWindow:     time.Duration(req.PriceWindow) * time.Second,
		MaxMoveBps:      req.MaxMoveBps,
	}
	h.breaker.SetConfig(cfg)
	if h.store != nil {
		if err := h.store.SaveBreaker(r.Context(), cfg); err != nil {
			h.logger.ErrorContext(r.Context(), "breaker config persist failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, h.renderBreaker())
}

// ResetBreaker clears a latched trip.
// POST /api/admin/breaker/reset
func (h *AdminHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	h.breaker.Reset(r.Context())
	h.logger.InfoContext(r.Context(), "circuit breaker reset",
		slog.String("caller", caller.Hex()),
	)

	writeJSON(w, http.StatusOK, h.renderBreaker())
}

// routingView is the JSON rendering of the venue-cascade policy.
type routingView struct {
	BatchNotionalThreshold uint64 `json:"batch_notional_threshold,string"`
	TightSlippageBps       uint32 `json:"tight_slippage_bps"`
}

// GetRouting returns the venue-cascade policy.
// GET /api/admin/routing
func (h *AdminHandler) GetRouting(w http.ResponseWriter, r *http.Request) {
	if h.router == nil {
		writeError(w, http.StatusServiceUnavailable, "routing not configured")
		return
	}
	cfg := h.router.Config()
	writeJSON(w, http.StatusOK, routingView{
		BatchNotionalThreshold: cfg.BatchNotionalThreshold,
		TightSlippageBps:       cfg.TightSlippageBps,
	})
}

// UpdateRouting replaces the venue-cascade policy. Swaps already in flight
// keep the route they selected.
// PUT /api/admin/routing
func (h *AdminHandler) UpdateRouting(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	if h.router == nil {
		writeError(w, http.StatusServiceUnavailable, "routing not configured")
		return
	}

	var req routingView
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := domain.RouterConfig{
		BatchNotionalThreshold: req.BatchNotionalThreshold,
		TightSlippageBps:       req.TightSlippageBps,
	}
	h.router.SetConfig(cfg)
	if h.store != nil {
		if err := h.store.SaveRouter(r.Context(), cfg); err != nil {
			h.logger.ErrorContext(r.Context(), "router config persist failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, routingView{
		BatchNotionalThreshold: cfg.BatchNotionalThreshold,
		TightSlippageBps:       cfg.TightSlippageBps,
	})
}

// persistProtocol mirrors the current protocol config into the config store.
func (h *AdminHandler) persistProtocol(ctx context.Context) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveProtocol(ctx, h.protocol.Config()); err != nil {
		h.logger.ErrorContext(ctx, "protocol config persist failed",
			slog.String("error", err.Error()),
		)
	}
}
