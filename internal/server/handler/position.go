package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/server/middleware"
)

// PositionService is the ledger surface the position handler requires.
type PositionService interface {
	Create(ctx context.Context, caller common.Address, params domain.CreateParams) (uint64, error)
	Modify(ctx context.Context, caller common.Address, id uint64, upd domain.Update) error
	Pause(ctx context.Context, caller common.Address, id uint64) error
	Resume(ctx context.Context, caller common.Address, id uint64) error
	Cancel(ctx context.Context, caller common.Address, id uint64) error
	Deposit(ctx context.Context, caller common.Address, id uint64, asset string, amount uint64) error
	Withdraw(ctx context.Context, caller common.Address, id uint64, asset string, amount uint64, to common.Address) error
	EmergencyArm(ctx context.Context, caller common.Address, id uint64) error
	EmergencyComplete(ctx context.Context, caller common.Address, id uint64) error
	Get(id uint64) (domain.Position, error)
	Owner(id uint64) (common.Address, error)
	PositionsByOwner(owner common.Address) []uint64
}

// CertificateService is the ownership surface for certificate transfers.
type CertificateService interface {
	Transfer(id uint64, from, to common.Address) error
	OwnerOf(id uint64) (common.Address, error)
}

// PositionHandler serves the position lifecycle endpoints.
type PositionHandler struct {
	positions PositionService
	certs     CertificateService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, certs CertificateService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		certs:     certs,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

// positionView is the JSON rendering of a position. Base-unit amounts are
// strings so browser clients never round them through float64.
type positionView struct {
	ID    uint64 `json:"id"`
	Owner string `json:"owner"`

	QuoteAsset      string     `json:"quote_asset"`
	BaseAsset       string     `json:"base_asset"`
	Direction       string     `json:"direction"`
	Frequency       string     `json:"frequency"`
	AmountPerPeriod uint64     `json:"amount_per_period,string"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           *time.Time `json:"end_at,omitempty"`

	Beneficiary          string  `json:"beneficiary"`
	Referrer             string  `json:"referrer,omitempty"`
	SlippageBps          uint32  `json:"slippage_bps"`
	TwapWindowSecs       int64   `json:"twap_window_secs"`
	MaxPriceDeviationBps uint32  `json:"max_price_deviation_bps"`
	PriceFloorUSD        float64 `json:"price_floor_usd,omitempty"`
	PriceCapUSD          float64 `json:"price_cap_usd,omitempty"`
	Venue                string  `json:"venue"`
	MEV                  string  `json:"mev"`
	MaxBaseFeeGwei       float64 `json:"max_base_fee_gwei,omitempty"`

	QuoteBalance     uint64     `json:"quote_balance,string"`
	BaseBalance      uint64     `json:"base_balance,string"`
	PeriodsExecuted  uint64     `json:"periods_executed"`
	NextExecAt       time.Time  `json:"next_exec_at"`
	Paused           bool       `json:"paused"`
	Canceled         bool       `json:"canceled"`
	EmergencyArmedAt *time.Time `json:"emergency_armed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func renderPosition(p domain.Position, owner common.Address) positionView {
	v := positionView{
		ID:                   p.ID,
		Owner:                owner.Hex(),
		QuoteAsset:           p.QuoteAsset,
		BaseAsset:            p.BaseAsset,
		Direction:            string(p.Direction),
		Frequency:            string(p.Frequency),
		AmountPerPeriod:      p.AmountPerPeriod,
		StartAt:              p.StartAt,
		Beneficiary:          p.Beneficiary.Hex(),
		SlippageBps:          p.SlippageBps,
		TwapWindowSecs:       int64(p.TwapWindow / time.Second),
		MaxPriceDeviationBps: p.MaxPriceDeviationBps,
		PriceFloorUSD:        p.PriceFloorUSD,
		PriceCapUSD:          p.PriceCapUSD,
		Venue:                string(p.Venue),
		MEV:                  string(p.MEV),
		MaxBaseFeeGwei:       p.MaxBaseFeeGwei,
		QuoteBalance:         p.QuoteBalance,
		BaseBalance:          p.BaseBalance,
		PeriodsExecuted:      p.PeriodsExecuted,
		NextExecAt:           p.NextExecAt,
		Paused:               p.Paused,
		Canceled:             p.Canceled,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if !p.EndAt.IsZero() {
		v.EndAt = &p.EndAt
	}
	if (p.Referrer != common.Address{}) {
		v.Referrer = p.Referrer.Hex()
	}
	if !p.EmergencyArmedAt.IsZero() {
		v.EmergencyArmedAt = &p.EmergencyArmedAt
	}
	return v
}

// createRequest is the body for POST /api/positions.
type createRequest struct {
	Owner           string `json:"owner,omitempty"`
	Beneficiary     string `json:"beneficiary,omitempty"`
	Referrer        string `json:"referrer,omitempty"`
	QuoteAsset      string `json:"quote_asset"`
	BaseAsset       string `json:"base_asset"`
	Direction       string `json:"direction"`
	Frequency       string `json:"frequency"`
	AmountPerPeriod uint64 `json:"amount_per_period,string"`
	StartAt         string `json:"start_at,omitempty"`
	EndAt           string `json:"end_at,omitempty"`

	SlippageBps          uint32  `json:"slippage_bps"`
	TwapWindowSecs       int64   `json:"twap_window_secs,omitempty"`
	MaxPriceDeviationBps uint32  `json:"max_price_deviation_bps,omitempty"`
	PriceFloorUSD        float64 `json:"price_floor_usd,omitempty"`
	PriceCapUSD          float64 `json:"price_cap_usd,omitempty"`
	Venue                string  `json:"venue,omitempty"`
	MEV                  string  `json:"mev,omitempty"`
	MaxBaseFeeGwei       float64 `json:"max_base_fee_gwei,omitempty"`
}

// Create opens a new position for the caller.
// POST /api/positions
func (h *PositionHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller := middleware.Principal(r.Context())

	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params, err := h.buildCreateParams(caller, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.positions.Create(r.Context(), caller, params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pos, err := h.positions.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	owner, _ := h.positions.Owner(id)
	writeJSON(w, http.StatusCreated, renderPosition(pos, owner))
}

func (h *PositionHandler) buildCreateParams(caller common.Address, req createRequest) (domain.CreateParams, error) {
	var params domain.CreateParams
	var err error

	params.Owner = caller
	if req.Owner != "" {
		if params.Owner, err = parseAddress(req.Owner); err != nil {
			return params, err
		}
	}
	if params.Beneficiary, err = parseAddress(req.Beneficiary); err != nil {
		return params, err
	}
	if params.Referrer, err = parseAddress(req.Referrer); err != nil {
		return params, err
	}

	params.QuoteAsset = req.QuoteAsset
	params.BaseAsset = req.BaseAsset
	params.Direction = domain.Direction(req.Direction)
	params.Frequency = domain.Frequency(req.Frequency)
	params.AmountPerPeriod = req.AmountPerPeriod

	if req.StartAt != "" {
		if params.StartAt, err = time.Parse(time.RFC3339, req.StartAt); err != nil {
			return params, err
		}
	}
	if req.EndAt != "" {
		if params.EndAt, err = time.Parse(time.RFC3339, req.EndAt); err != nil {
			return params, err
		}
	}

	params.SlippageBps = req.SlippageBps
	params.TwapWindow = time.Duration(req.TwapWindowSecs) * time.Second
	params.MaxPriceDeviationBps = req.MaxPriceDeviationBps
	params.PriceFloorUSD = req.PriceFloorUSD
	params.PriceCapUSD = req.PriceCapUSD
	params.Venue = domain.VenuePreference(req.Venue)
	if params.Venue == "" {
		params.Venue = domain.VenueAuto
	}
	params.MEV = domain.MEVPosture(req.MEV)
	if params.MEV == "" {
		params.MEV = domain.MEVPrivate
	}
	params.MaxBaseFeeGwei = req.MaxBaseFeeGwei

	return params, nil
}

// Get returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.positions.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	owner, _ := h.positions.Owner(id)
	writeJSON(w, http.StatusOK, renderPosition(pos, owner))
}

// List returns the positions owned by an address. With no owner parameter it
// lists the caller's own positions.
// GET /api/positions?owner=0x...
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := middleware.Principal(r.Context())
	if s := r.URL.Query().Get("owner"); s != "" {
		var err error
		if owner, err = parseAddress(s); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	views := []positionView{}
	for _, id := range h.positions.PositionsByOwner(owner) {
		pos, err := h.positions.Get(id)
		if err != nil {
			continue
		}
		views = append(views, renderPosition(pos, owner))
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

// immutableFields are the identity fields fixed at creation. A PATCH naming
// one fails with ErrImmutableField rather than a generic unknown-field error.
var immutableFields = map[string]bool{
	"id":                true,
	"owner":             true,
	"quote_asset":       true,
	"base_asset":        true,
	"direction":         true,
	"frequency":         true,
	"amount_per_period": true,
	"start_at":          true,
	"end_at":            true,
}

// modifyRequest is the body for PATCH /api/positions/{id}. Absent fields are
// left untouched.
type modifyRequest struct {
	Beneficiary          *string  `json:"beneficiary,omitempty"`
	Referrer             *string  `json:"referrer,omitempty"`
	SlippageBps          *uint32  `json:"slippage_bps,omitempty"`
	TwapWindowSecs       *int64   `json:"twap_window_secs,omitempty"`
	MaxPriceDeviationBps *uint32  `json:"max_price_deviation_bps,omitempty"`
	PriceFloorUSD        *float64 `json:"price_floor_usd,omitempty"`
	PriceCapUSD          *float64 `json:"price_cap_usd,omitempty"`
	Venue                *string  `json:"venue,omitempty"`
	MEV                  *string  `json:"mev,omitempty"`
	MaxBaseFeeGwei       *float64 `json:"max_base_fee_gwei,omitempty"`
}

// Modify updates a position's mutable fields.
// PATCH /api/positions/{id}
func (h *PositionHandler) Modify(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	for name := range fields {
		if immutableFields[name] {
			writeDomainError(w, fmt.Errorf("%w: %s is fixed at creation", domain.ErrImmutableField, name))
			return
		}
	}

	var req modifyRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var upd domain.Update
	if req.Beneficiary != nil {
		addr, err := parseAddress(*req.Beneficiary)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upd.Beneficiary = &addr
	}
	if req.Referrer != nil {
		addr, err := parseAddress(*req.Referrer)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upd.Referrer = &addr
	}
	upd.SlippageBps = req.SlippageBps
	if req.TwapWindowSecs != nil {
		d := time.Duration(*req.TwapWindowSecs) * time.Second
		upd.TwapWindow = &d
	}
	upd.MaxPriceDeviationBps = req.MaxPriceDeviationBps
	upd.PriceFloorUSD = req.PriceFloorUSD
	upd.PriceCapUSD = req.PriceCapUSD
	if req.Venue != nil {
		v := domain.VenuePreference(*req.Venue)
		upd.Venue = &v
	}
	if req.MEV != nil {
		m := domain.MEVPosture(*req.MEV)
		upd.MEV = &m
	}
	upd.MaxBaseFeeGwei = req.MaxBaseFeeGwei

	caller := middleware.Principal(r.Context())
	if err := h.positions.Modify(r.Context(), caller, id, upd); err != nil {
		writeDomainError(w, err)
		return
	}

	pos, err := h.positions.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	owner, _ := h.positions.Owner(id)
	writeJSON(w, http.StatusOK, renderPosition(pos, owner))
}

// Pause suspends scheduled executions for a position.
// POST /api/positions/{id}/pause
func (h *PositionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.positions.Pause)
}

// Resume lifts a pause.
// POST /api/positions/{id}/resume
func (h *PositionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.positions.Resume)
}

// Cancel terminally closes a position.
// DELETE /api/positions/{id}
func (h *PositionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.positions.Cancel)
}

// EmergencyArm starts the timelocked emergency withdrawal.
// POST /api/positions/{id}/emergency/arm
func (h *PositionHandler) EmergencyArm(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.positions.EmergencyArm)
}

// EmergencyWithdraw completes an armed emergency withdrawal once the delay
// has elapsed.
// POST /api/positions/{id}/emergency/withdraw
func (h *PositionHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.positions.EmergencyComplete)
}

// lifecycle runs a single-verb position operation and returns the refreshed
// position (or 204 when the operation removed it).
func (h *PositionHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, common.Address, uint64) error) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller := middleware.Principal(r.Context())
	if err := op(r.Context(), caller, id); err != nil {
		writeDomainError(w, err)
		return
	}

	pos, err := h.positions.Get(id)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	owner, _ := h.positions.Owner(id)
	writeJSON(w, http.StatusOK, renderPosition(pos, owner))
}

// fundsRequest is the body for deposits and withdrawals.
type fundsRequest struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount,string"`
	To     string `json:"to,omitempty"` // withdrawals only
}

// Deposit credits idle balance to a position.
// POST /api/positions/{id}/deposit
func (h *PositionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req fundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller := middleware.Principal(r.Context())
	if err := h.positions.Deposit(r.Context(), caller, id, req.Asset, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}

	pos, err := h.positions.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	owner, _ := h.positions.Owner(id)
	writeJSON(w, http.StatusOK, renderPosition(pos, owner))
}

// Withdraw debits idle balance from a position.
// POST /api/positions/{id}/withdraw
func (h *PositionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req fundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller := middleware.Principal(r.Context())
	if to == (common.Address{}) {
		to = caller
	}

	if err := h.positions.Withdraw(r.Context(), caller, id, req.Asset, req.Amount, to); err != nil {
		writeDomainError(w, err)
		return
	}

	pos, err := h.positions.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	owner, _ := h.positions.Owner(id)
	writeJSON(w, http.StatusOK, renderPosition(pos, owner))
}

// transferRequest is the body for certificate transfers.
type transferRequest struct {
	To string `json:"to"`
}

// Transfer moves the position certificate, and with it every owner
// capability, to a new address.
// POST /api/positions/{id}/transfer
func (h *PositionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil || to == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "transfer target required")
		return
	}

	caller := middleware.Principal(r.Context())
	if err := h.certs.Transfer(id, caller, to); err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "certificate transferred",
		slog.Uint64("position_id", id),
		slog.String("from", caller.Hex()),
		slog.String("to", to.Hex()),
	)

	pos, err := h.positions.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderPosition(pos, to))
}
