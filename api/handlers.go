package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// maxBodyBytes bounds request bodies; a tick batch is the largest payload.
const maxBodyBytes = 4 << 20

// ============================================================
// Account handlers
// ============================================================

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.ledger.Account()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.ledger.Stats()})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.ledger.Positions()
	if positions == nil {
		positions = []models.Position{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: positions})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Reset(); err != nil {
		if errors.Is(err, ledger.ErrClosed) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("account reset via api")
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.ledger.Account()})
}

// ============================================================
// Order handlers
// ============================================================

// handleGetOrders lists the order history in submission order. With
// ?active=true only working orders are returned.
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	var orders []models.Order
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		orders = s.ledger.ActiveOrders()
	} else {
		orders = s.ledger.Orders()
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: orders})
}

func (s *Server) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, ok := s.ledger.Order(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", ledger.ErrOrderNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: order})
}

// handlePlaceOrder submits an order. A rejection is a 422 whose data
// carries the machine-readable reason.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, rej := s.sink.SubmitOrder(req)
	if rej != nil {
		writeJSON(w, http.StatusUnprocessableEntity, APIResponse{
			Success: false,
			Data:    rej,
			Error:   rej.String(),
		})
		return
	}

	order, _ := s.ledger.Order(id)
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: order})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sink.CancelOrder(id); err != nil {
		switch {
		case errors.Is(err, ledger.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ledger.ErrClosed):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	order, _ := s.ledger.Order(id)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: order})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.ledger.Trades()
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: trades})
}

// ============================================================
// Market data handlers
// ============================================================

// TicksResponse reports how many ticks were applied.
type TicksResponse struct {
	Accepted int `json:"accepted"`
}

// handleTicks feeds one tick object or an array of ticks into the ledger.
// The batch is validated as a whole before any tick is applied.
func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ticks, err := parseTicks(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i := range ticks {
		if err := normalizeTick(&ticks[i]); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("tick %d: %v", i, err))
			return
		}
	}

	for _, t := range ticks {
		s.ledger.OnTick(t)
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: TicksResponse{Accepted: len(ticks)}})
}

func parseTicks(body []byte) ([]models.Tick, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty request body")
	}
	if body[0] == '[' {
		var ticks []models.Tick
		if err := json.Unmarshal(body, &ticks); err != nil {
			return nil, fmt.Errorf("invalid tick array: %w", err)
		}
		return ticks, nil
	}
	var t models.Tick
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("invalid tick: %w", err)
	}
	return []models.Tick{t}, nil
}

// normalizeTick cleans the symbol, infers a missing exchange and stamps a
// missing time with the CST wall clock.
func normalizeTick(t *models.Tick) error {
	t.Symbol = utils.NormalizeSymbol(t.Symbol)
	if t.Symbol == "" {
		return errors.New("symbol is required")
	}
	if t.Exchange == "" {
		t.Exchange = utils.ExchangeFor(t.Symbol)
	}
	if t.LastPrice <= 0 || math.IsNaN(t.LastPrice) || math.IsInf(t.LastPrice, 0) {
		return fmt.Errorf("last_price must be positive, got %v", t.LastPrice)
	}
	if t.Time.IsZero() {
		t.Time = utils.NowCST()
	}
	return nil
}

// ============================================================
// Risk handlers
// ============================================================

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if s.risk == nil {
		writeError(w, http.StatusNotFound, "risk manager not configured")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.risk.Report()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
