package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"duka/internal/mpesa"
	"duka/internal/payments"
	"duka/internal/realtime"
)

const (
	maxBodyBytes    = 64 << 10
	callbackTimeout = 2 * time.Minute
)

type paymentRequest struct {
	OrderID     string  `json:"orderId"`
	Amount      float64 `json:"amount"`
	PhoneNumber string  `json:"phoneNumber"`
	Wait        bool    `json:"wait,omitempty"`
}

type initiateResponse struct {
	Status            string `json:"status"`
	CheckoutRequestID string `json:"checkoutRequestId,omitempty"`
	CustomerMessage   string `json:"customerMessage,omitempty"`
}

type cancelRequest struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
}

type statusResponse struct {
	Status             string `json:"status"`
	Message            string `json:"message"`
	ResultCode         *int   `json:"resultCode,omitempty"`
	ResultDesc         string `json:"resultDesc,omitempty"`
	MpesaReceiptNumber string `json:"mpesaReceiptNumber,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payments.initiate")
	err := s.startPayment(w, r, s.payments.Initiate, s.payments.InitiateAsync)
	span.End(err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payments.retry")
	err := s.startPayment(w, r, s.payments.Retry, nil)
	span.End(err)
}

// startPayment covers both initiation styles: wait-for-provider and
// accept-then-notify. Retry has no async variant; asyncFn may be nil.
func (s *Server) startPayment(
	w http.ResponseWriter,
	r *http.Request,
	syncFn func(context.Context, payments.InitiateInput) (payments.InitiateResult, error),
	asyncFn func(context.Context, payments.InitiateInput) error,
) error {
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "BAD_REQUEST"})
		return err
	}

	in := payments.InitiateInput{
		OrderNumber: req.OrderID,
		Amount:      req.Amount,
		Phone:       req.PhoneNumber,
		Requester:   r.Header.Get("X-User-ID"),
	}

	if !req.Wait && asyncFn != nil {
		if err := asyncFn(r.Context(), in); err != nil {
			s.writeError(w, err)
			return err
		}
		writeJSON(w, http.StatusAccepted, initiateResponse{Status: "accepted"})
		return nil
	}

	res, err := syncFn(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return err
	}
	writeJSON(w, http.StatusAccepted, initiateResponse{
		Status:            "accepted",
		CheckoutRequestID: res.CheckoutRequestID,
		CustomerMessage:   res.CustomerMessage,
	})
	return nil
}

// handleCallback authenticates the path secret, acknowledges the provider
// unconditionally, and reconciles in the background. Processing failures
// are logged, never reflected to the provider: a non-200 here would only
// trigger provider-side redelivery storms.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payments.callback")

	secret := r.PathValue("secretKey")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.callbackSecret)) != 1 {
		span.End(errors.New("bad callback secret"))
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Code: "FORBIDDEN"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logf("read callback body: %v", err)
		body = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		err := s.payments.HandleCallback(ctx, body)
		if err != nil {
			s.logf("callback processing: %v", err)
		}
		span.End(err)
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payments.status")

	res, err := s.payments.Status(r.Context(), r.PathValue("checkoutRequestId"))
	if err != nil {
		s.writeError(w, err)
		span.End(err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:             res.Status,
		Message:            res.Message,
		ResultCode:         res.ResultCode,
		ResultDesc:         res.ResultDesc,
		MpesaReceiptNumber: res.ReceiptNumber,
	})
	span.End(nil)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payments.cancel")

	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "BAD_REQUEST"})
		span.End(err)
		return
	}

	err := s.payments.Cancel(r.Context(), req.CheckoutRequestID, r.Header.Get("X-User-ID"))
	if err != nil {
		s.writeError(w, err)
		span.End(err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	span.End(nil)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("websocket upgrade: %v", err)
		return
	}

	s.hub.Register <- realtime.Subscription{Topic: topic, Conn: conn}

	// Drain the connection; a read error means the client went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Unregister <- realtime.Subscription{Topic: topic, Conn: conn}
				return
			}
		}
	}()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, payments.ErrInvalidPhoneNumber):
		status, code = http.StatusBadRequest, "INVALID_PHONE"
	case errors.Is(err, payments.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, payments.ErrOrderNotFound):
		status, code = http.StatusNotFound, "ORDER_NOT_FOUND"
	case errors.Is(err, payments.ErrTransactionNotFound):
		status, code = http.StatusNotFound, "TRANSACTION_NOT_FOUND"
	case errors.Is(err, payments.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, payments.ErrAlreadyPaid):
		status, code = http.StatusConflict, "ALREADY_PAID"
	case errors.Is(err, payments.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	default:
		var gwErr *mpesa.GatewayError
		if errors.As(err, &gwErr) {
			status, code = http.StatusBadGateway, "GATEWAY_ERROR"
		}
	}

	msg := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		s.logf("request failed: %v", err)
		msg = "payment request failed"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
