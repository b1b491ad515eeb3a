package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/ws"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

// streamCloseGrace keeps a terminal frame readable before the socket closes.
const streamCloseGrace = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream carries only the caller's own order updates; cross-origin
	// browser clients are allowed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamHandler upgrades the connection and attaches it to the order's
// lifecycle stream. The first frame anchors the client at the order's
// current status; if that status is already terminal the persisted outcome
// is replayed and the socket closes after the grace period.
//
// This route must stay outside TimeoutMiddleware: the upgrade hijacks the
// connection and the socket lives until the order finishes.
func (s *Server) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "id")
		lg := LoggerFrom(r)

		order, err := s.Orders.Get(r.Context(), orderID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			writeError(w, r, err, nil)
			return
		}
		unknown := err != nil

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			lg.Warn("websocket upgrade failed", slog.Any("error", err))
			return
		}

		if unknown {
			_ = conn.WriteJSON(ws.Frame{
				OrderID:   orderID,
				Error:     "order not found",
				Timestamp: domain.FormatTimestamp(s.Clock.Now()),
			})
			_ = conn.Close()
			return
		}

		s.Streams.Register(orderID, conn)
		s.Streams.SendFrame(orderID, ws.Frame{
			OrderID: orderID,
			Status:  order.Status,
			Message: "Connected to order stream",
		})
		if order.Status.Terminal() {
			s.Streams.SendFrame(orderID, terminalFrame(order))
			s.Streams.ScheduleClose(orderID, streamCloseGrace)
		}
		lg.Info("stream attached", slog.String("order_id", orderID), slog.String("status", string(order.Status)))

		go s.readLoop(orderID, conn)
	}
}

// readLoop drains client frames until the peer goes away, then detaches the
// socket. The registry is the only writer; this goroutine is the only reader.
func (s *Server) readLoop(orderID string, conn *websocket.Conn) {
	defer func() {
		s.Streams.Deregister(orderID, conn)
		_ = conn.Close()
	}()
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// terminalFrame rebuilds the terminal publication from the persisted order
// for clients that connect after execution finished.
func terminalFrame(order domain.Order) ws.Frame {
	frame := ws.Frame{OrderID: order.ID, Status: order.Status}
	switch order.Status {
	case domain.OrderConfirmed:
		data := map[string]any{}
		if order.TxHash != nil {
			data["tx_hash"] = *order.TxHash
		}
		if order.ExecutedPrice != nil {
			data["executed_price"] = order.ExecutedPrice.String()
		}
		if order.AmountOut != nil {
			data["amount_out"] = order.AmountOut.String()
		}
		if order.DexUsed != nil {
			data["dex_used"] = string(*order.DexUsed)
		}
		frame.Data = data
	case domain.OrderFailed:
		data := map[string]any{}
		if order.Error != nil {
			data["error"] = *order.Error
		}
		frame.Data = data
	}
	return frame
}
