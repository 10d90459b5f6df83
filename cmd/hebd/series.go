package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"hebledger/native/bond"
	"hebledger/native/bondfactory"
)

// seriesHost bridges the series intake to the two engines. A valid request is
// parked with the factory, the series is instantiated with the factory fee
// policy stamped on, and the outcome is reported back to the factory so the
// pending record is consumed either way.
type seriesHost struct {
	bond    *bond.Engine
	factory *bondfactory.Engine
	admin   string
	feeders []string
	logger  *slog.Logger
}

func (h *seriesHost) register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/v1/series", h.handleSeries)
}

func (h *seriesHost) handleSeries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreate(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type seriesTermsPayload struct {
	Borrower                  string              `json:"borrower"`
	CollateralDenom           string              `json:"collateral_denom"`
	PrincipalDenom            string              `json:"principal_denom"`
	PrincipalCap              string              `json:"principal_cap"`
	MaturityTS                uint64              `json:"maturity_ts"`
	BaseRateAprBps            uint64              `json:"base_rate_apr_bps"`
	PenaltyRateAprBps         uint64              `json:"penalty_rate_apr_bps"`
	CouponPeriodSeconds       uint64              `json:"coupon_period_seconds"`
	InitialCollateralRatioBps uint64              `json:"initial_collateral_ratio_bps"`
	LiquidationRatioBps       uint64              `json:"liquidation_ratio_bps"`
	LiquidationBonusBps       uint64              `json:"liquidation_bonus_bps"`
	OracleSource              string              `json:"oracle_source"`
	MaxPriceAgeSeconds        uint64              `json:"max_price_age_seconds"`
	ImpactBatchIDs            []string            `json:"impact_batch_ids"`
	ImpactCheckpoints         []checkpointPayload `json:"impact_checkpoints"`
}

type checkpointPayload struct {
	Timestamp     uint64 `json:"timestamp"`
	TargetRetired string `json:"target_retired"`
}

func (p seriesTermsPayload) terms() (bond.SeriesTerms, error) {
	terms := bond.SeriesTerms{
		Borrower:                  strings.TrimSpace(p.Borrower),
		CollateralDenom:           strings.TrimSpace(p.CollateralDenom),
		PrincipalDenom:            strings.TrimSpace(p.PrincipalDenom),
		MaturityTS:                p.MaturityTS,
		BaseRateAprBps:            p.BaseRateAprBps,
		PenaltyRateAprBps:         p.PenaltyRateAprBps,
		CouponPeriodSeconds:       p.CouponPeriodSeconds,
		InitialCollateralRatioBps: p.InitialCollateralRatioBps,
		LiquidationRatioBps:       p.LiquidationRatioBps,
		LiquidationBonusBps:       p.LiquidationBonusBps,
	}
	terms.Oracle.SourceID = strings.TrimSpace(p.OracleSource)
	terms.Oracle.MaxPriceAgeSeconds = p.MaxPriceAgeSeconds
	terms.Impact.Mode = bond.ImpactModeRetirementBatches
	terms.Impact.BatchIDs = append([]string(nil), p.ImpactBatchIDs...)
	if strings.TrimSpace(p.PrincipalCap) != "" {
		capAmount, ok := new(big.Int).SetString(strings.TrimSpace(p.PrincipalCap), 10)
		if !ok || capAmount.Sign() < 0 {
			return bond.SeriesTerms{}, errors.New("invalid principal_cap")
		}
		terms.PrincipalCap = capAmount
	}
	for _, cp := range p.ImpactCheckpoints {
		target, ok := new(big.Int).SetString(strings.TrimSpace(cp.TargetRetired), 10)
		if !ok || target.Sign() < 0 {
			return bond.SeriesTerms{}, errors.New("invalid target_retired")
		}
		terms.Impact.Checkpoints = append(terms.Impact.Checkpoints, bond.ImpactCheckpoint{
			Timestamp:     cp.Timestamp,
			TargetRetired: target,
		})
	}
	return terms, nil
}

func (h *seriesHost) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Creator string             `json:"creator"`
		Nonce   uint64             `json:"nonce"`
		Terms   seriesTermsPayload `json:"terms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	creator := strings.TrimSpace(payload.Creator)
	if creator == "" {
		writeJSONError(w, http.StatusBadRequest, "creator required")
		return
	}
	policy, err := h.factory.Config()
	if err != nil {
		h.logger.Error("load factory policy", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "factory unavailable")
		return
	}
	if policy == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "series creation disabled")
		return
	}
	terms, err := payload.Terms.terms()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending, err := h.factory.CreateSeries(creator, terms, payload.Nonce)
	if err != nil {
		writeJSONError(w, seriesErrorStatus(err), err.Error())
		return
	}
	if err := h.bond.Instantiate(policy.SeriesConfig(h.admin, h.feeders, pending.Terms)); err != nil {
		if _, cerr := h.factory.CompleteCreateSeries(pending.ID, "", false); cerr != nil {
			h.logger.Error("discard pending create", "error", cerr)
		}
		writeJSONError(w, seriesErrorStatus(err), err.Error())
		return
	}
	record, err := h.factory.CompleteCreateSeries(pending.ID, seriesAddress(pending.ID), true)
	if err != nil {
		h.logger.Error("register series", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "series registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, seriesRecordBody(record))
}

func (h *seriesHost) handleList(w http.ResponseWriter, r *http.Request) {
	offset, err := queryUint(r, "offset", 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := queryUint(r, "limit", 50)
	if err != nil || limit == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	records, err := h.factory.SeriesList(offset, limit)
	if err != nil {
		h.logger.Error("list series", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "registry unavailable")
		return
	}
	entries := make([]map[string]any, 0, len(records))
	for _, record := range records {
		entries = append(entries, seriesRecordBody(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": entries})
}

func seriesRecordBody(record *bondfactory.SeriesRecord) map[string]any {
	if record == nil {
		return nil
	}
	return map[string]any{
		"index":      record.Index,
		"address":    record.Address,
		"borrower":   record.Borrower,
		"creator":    record.Creator,
		"created_at": record.CreatedAt,
	}
}

// seriesAddress derives a stable address for a completed create from its
// correlation id.
func seriesAddress(id [32]byte) string {
	return "series1" + hex.EncodeToString(id[:20])
}

func seriesErrorStatus(err error) int {
	switch {
	case errors.Is(err, bondfactory.ErrPendingExists):
		return http.StatusConflict
	case errors.Is(err, bondfactory.ErrDenomNotAllowed), errors.Is(err, bondfactory.ErrRatioTooLow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bondfactory.ErrUnauthorized):
		return http.StatusForbidden
	case bond.IsInvalidConfig(err), bondfactory.IsInvalidConfig(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryUint(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
