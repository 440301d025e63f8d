package api

import (
	"net/http"

	"github.com/seenimoa/papertrader/internal/config"
	"github.com/seenimoa/papertrader/internal/risk"
)

// LedgerSettings is the JSON view of the running ledger.Config.
type LedgerSettings struct {
	AccountID         string  `json:"account_id"`
	InitialCapital    float64 `json:"initial_capital"`
	CommissionRate    float64 `json:"commission_rate"`
	StampDutyRate     float64 `json:"stamp_duty_rate"`
	Slippage          float64 `json:"slippage"`
	LotSize           int     `json:"lot_size"`
	ExecutionDelayMs  int64   `json:"execution_delay_ms"`
	PublishIntervalMs int64   `json:"publish_interval_ms"`
	DepthLimitedFills bool    `json:"depth_limited_fills"`
}

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
// Secrets are excluded via json:"-" tags on the config structs.
type ConfigResponse struct {
	Ledger LedgerSettings `json:"ledger"`
	Risk   *risk.Limits   `json:"risk,omitempty"`
	Config *config.Config `json:"config,omitempty"`
}

// handleGetConfig returns the effective ledger settings, the risk limits
// and, when available, the application configuration.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	lc := s.ledger.Config()
	resp := ConfigResponse{
		Ledger: LedgerSettings{
			AccountID:         lc.AccountID,
			InitialCapital:    lc.InitialCapital,
			CommissionRate:    lc.CommissionRate,
			StampDutyRate:     lc.StampDutyRate,
			Slippage:          lc.Slippage,
			LotSize:           lc.LotSize,
			ExecutionDelayMs:  lc.ExecutionDelay.Milliseconds(),
			PublishIntervalMs: lc.PublishInterval.Milliseconds(),
			DepthLimitedFills: lc.DepthLimitedFills,
		},
		Config: s.cfg,
	}
	if s.risk != nil {
		limits := s.risk.Limits()
		resp.Risk = &limits
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// handleGetSecrets returns the masked status of the connection secrets.
func (s *Server) handleGetSecrets(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		writeError(w, http.StatusNotFound, "application config not loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: config.CheckSecrets(s.cfg)})
}
