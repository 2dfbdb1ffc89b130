package rest

import (
	"log"
	"net/http"

	"duka/internal/observability"
	"duka/internal/payments"
	"duka/internal/realtime"

	"github.com/gorilla/websocket"
)

// Server exposes the payment flow over HTTP and WebSocket.
type Server struct {
	payments       *payments.Service
	hub            *realtime.Hub
	callbackSecret string
	metrics        *observability.Metrics
	upgrader       websocket.Upgrader
	logf           func(format string, args ...any)
}

// NewServer constructs the HTTP adapter.
func NewServer(svc *payments.Service, hub *realtime.Hub, callbackSecret string, metrics *observability.Metrics, logf func(format string, args ...any)) *Server {
	if logf == nil {
		logf = log.Printf
	}
	return &Server{
		payments:       svc,
		hub:            hub,
		callbackSecret: callbackSecret,
		metrics:        metrics,
		logf:           logf,
	}
}

// Routes builds the request mux. The callback route is the only
// internet-facing unauthenticated entry point and sits behind the limiter.
func (s *Server) Routes(limiter waiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments/initiate", s.handleInitiate)
	mux.HandleFunc("POST /payments/retry", s.handleRetry)
	mux.HandleFunc("POST /payments/cancel", s.handleCancel)
	mux.HandleFunc("GET /payments/status/{checkoutRequestId}", s.handleStatus)
	mux.Handle("POST /payments/callback/{secretKey}",
		rateLimit(limiter, s.metrics, http.HandlerFunc(s.handleCallback)))
	mux.HandleFunc("GET /payments/subscribe/{topic}", s.handleSubscribe)
	return mux
}
