package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/observability"
	"github.com/fairyhunter13/dex-order-engine/internal/adapter/ws"
	"github.com/fairyhunter13/dex-order-engine/internal/config"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
	"github.com/fairyhunter13/dex-order-engine/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Orders  usecase.OrderService
	Streams *ws.Registry
	Clock   domain.Clock

	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, orders usecase.OrderService, streams *ws.Registry, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Orders:     orders,
		Streams:    streams,
		Clock:      domain.SystemClock{},
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func acceptsJSON(r *http.Request) bool {
	a := r.Header.Get("Accept")
	return a == "" || a == "*/*" || strings.Contains(a, "application/json")
}

type executeOrderRequest struct {
	OrderType string           `json:"orderType" validate:"required"`
	TokenIn   string           `json:"tokenIn" validate:"required"`
	TokenOut  string           `json:"tokenOut" validate:"required"`
	AmountIn  *decimal.Decimal `json:"amountIn" validate:"required"`
	Slippage  *decimal.Decimal `json:"slippage"`
}

// ExecuteOrderHandler accepts a market order and enqueues it for execution.
// The response points the client at the stream endpoint; execution progress
// is only observable there.
func (s *Server) ExecuteOrderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r.Header.Get("Accept"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req executeOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		in := usecase.SubmitInput{
			OrderType: req.OrderType,
			TokenIn:   req.TokenIn,
			TokenOut:  req.TokenOut,
			AmountIn:  *req.AmountIn,
			Slippage:  req.Slippage,
		}
		order, err := s.Orders.Submit(r.Context(), in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.OrdersSubmittedTotal.Inc()
		LoggerFrom(r).Info("order accepted",
			"order_id", order.ID,
			"token_in", order.TokenIn,
			"token_out", order.TokenOut,
			"amount_in", order.AmountIn.String())
		writeJSON(w, http.StatusCreated, map[string]any{
			"orderId":      order.ID,
			"message":      "Order received and queued for execution",
			"websocketUrl": "/api/orders/" + order.ID + "/stream",
			"instructions": "Connect to the websocketUrl to receive real-time execution updates",
		})
	}
}

// GetOrderHandler returns the stored order as JSON.
func (s *Server) GetOrderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r.Header.Get("Accept"))
			return
		}
		id := chi.URLParam(r, "id")
		order, err := s.Orders.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

// HealthHandler reports liveness plus the number of attached order streams.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": domain.FormatTimestamp(s.Clock.Now()),
			"queue": map[string]any{
				"active_connections": s.Streams.Count(),
			},
		})
	}
}

// ReadyzHandler probes the store and the queue backend.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
