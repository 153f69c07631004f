package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/tradefleet/internal/bot"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

const defaultTradeLimit = 50

// apiError is the error half of the response envelope. Exchange failures
// surface only after classification, never as raw venue messages.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"success": false, "error": apiError{Code: code, Message: message}})
}

// respondDomainError maps err onto the envelope: classified exchange errors
// get kind-specific codes and statuses, everything else keeps the fallback.
func respondDomainError(c *gin.Context, err error, fallbackStatus int, fallbackCode string) {
	var exErr *exchange.Error
	if errors.As(err, &exErr) {
		status, code := exchangeStatus(exErr.Kind)
		respondError(c, status, code, err.Error())
		return
	}
	respondError(c, fallbackStatus, fallbackCode, err.Error())
}

func exchangeStatus(kind exchange.ErrorKind) (int, string) {
	switch kind {
	case exchange.KindPermission:
		return http.StatusForbidden, "exchange_permission"
	case exchange.KindSymbol:
		return http.StatusBadRequest, "unknown_symbol"
	case exchange.KindFilter:
		return http.StatusUnprocessableEntity, "order_rejected"
	case exchange.KindRate:
		return http.StatusTooManyRequests, "exchange_rate_limited"
	default:
		return http.StatusServiceUnavailable, "exchange_unavailable"
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "tradefleet",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"bots":       len(s.deps.Manager.AllBots()),
		"ws_clients": s.hub.ClientCount(),
		"time":       time.Now().UTC(),
	})
}

type startBotRequest struct {
	Strategy    string  `json:"strategy"`
	Symbol      string  `json:"symbol"`
	Amount      float64 `json:"amount"`
	Timeframe   string  `json:"timeframe"`
	TradingMode string  `json:"trading_mode"`
}

func (s *Server) handleStartBot(c *gin.Context) {
	var req startBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cfg := bot.Config{
		Strategy:    req.Strategy,
		Symbol:      strings.ToUpper(req.Symbol),
		Amount:      req.Amount,
		Timeframe:   req.Timeframe,
		TradingMode: exchange.ModeSpot,
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if req.TradingMode != "" {
		cfg.TradingMode = exchange.TradingMode(strings.ToUpper(req.TradingMode))
	}
	if err := cfg.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	b, err := s.deps.Manager.StartBot(c.Request.Context(), cfg)
	if err != nil {
		respondDomainError(c, err, http.StatusBadRequest, "start_failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "config": b.Config()})
}

func (s *Server) handleListBots(c *gin.Context) {
	statuses := s.deps.Manager.StatusAll()
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(statuses), "bots": statuses})
}

func (s *Server) handleGetBot(c *gin.Context) {
	id := c.Param("id")
	b, ok := s.deps.Manager.GetBot(id)
	if !ok {
		respondError(c, http.StatusNotFound, "bot_not_found", fmt.Sprintf("bot %s not found", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bot": b.Status()})
}

func (s *Server) handleStopBot(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.deps.Manager.GetBot(id); !ok {
		respondError(c, http.StatusNotFound, "bot_not_found", fmt.Sprintf("bot %s not found", id))
		return
	}
	if err := s.deps.Manager.StopBot(c.Request.Context(), id); err != nil {
		respondDomainError(c, err, http.StatusInternalServerError, "stop_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bot_id": id, "stopped": true})
}

func (s *Server) handleRemoveBot(c *gin.Context) {
	id := c.Param("id")
	b, ok := s.deps.Manager.GetBot(id)
	if !ok {
		respondError(c, http.StatusNotFound, "bot_not_found", fmt.Sprintf("bot %s not found", id))
		return
	}
	if !b.Stopped() {
		respondError(c, http.StatusConflict, "bot_running", fmt.Sprintf("bot %s must be stopped before removal", id))
		return
	}
	if err := s.deps.Manager.RemoveBot(id); err != nil {
		respondError(c, http.StatusConflict, "bot_running", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bot_id": id, "removed": true})
}

type manualTradeRequest struct {
	Side        string  `json:"side"`
	Quantity    float64 `json:"quantity"`
	AmountQuote float64 `json:"amount_quote"`
}

func (s *Server) handleManualTrade(c *gin.Context) {
	id := c.Param("id")

	var req manualTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	side := exchange.OrderSide(strings.ToUpper(req.Side))
	if side != exchange.SideBuy && side != exchange.SideSell {
		respondError(c, http.StatusBadRequest, "invalid_request", fmt.Sprintf("side must be BUY or SELL, got %q", req.Side))
		return
	}
	if _, ok := s.deps.Manager.GetBot(id); !ok {
		respondError(c, http.StatusNotFound, "bot_not_found", fmt.Sprintf("bot %s not found", id))
		return
	}

	trade, err := s.deps.Manager.ManualTrade(c.Request.Context(), id, side, req.Quantity, req.AmountQuote)
	if err != nil {
		respondDomainError(c, err, http.StatusUnprocessableEntity, "trade_rejected")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trade": trade})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.deps.Trades == nil {
		respondError(c, http.StatusServiceUnavailable, "history_unavailable", "trade history is not available")
		return
	}

	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	symbol := strings.ToUpper(c.Query("symbol"))
	trades, err := s.deps.Trades.Find(c.Request.Context(), symbol, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(trades), "trades": trades})
}

func (s *Server) handleAutonomousStatus(c *gin.Context) {
	if s.deps.Supervisor == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "enabled": true, "autonomous": s.deps.Supervisor.Status()})
}
