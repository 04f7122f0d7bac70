package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// RESTTransport talks to a live brokerage over its REST order API. Network
// faults, timeouts, and 5xx responses come back as *TransportError; a 4xx
// with a rejection code becomes a *BusinessRejection and is never retried.
type RESTTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// RESTConfig configures the live transport. APIKey falls back to the
// BROKER_API_KEY environment variable when empty.
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewRESTTransport(cfg RESTConfig) (*RESTTransport, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("broker: rest transport needs a base URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("BROKER_API_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RESTTransport{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// restRejection is the brokerage's error envelope on 4xx responses.
type restRejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (t *RESTTransport) SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitAck, error) {
	var ack SubmitAck
	if err := t.do(ctx, "submit", http.MethodPost, "/v1/orders", req, &ack); err != nil {
		return SubmitAck{}, err
	}
	if ack.BrokerOrderID == "" {
		return SubmitAck{}, NewTransportError("submit", "ack missing broker order id", false, nil)
	}
	return ack, nil
}

func (t *RESTTransport) PollOrder(ctx context.Context, brokerOrderID string) (FillState, error) {
	var fs FillState
	if err := t.do(ctx, "poll", http.MethodGet, "/v1/orders/"+brokerOrderID, nil, &fs); err != nil {
		return FillState{}, err
	}
	return fs, nil
}

func (t *RESTTransport) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return t.do(ctx, "cancel", http.MethodDelete, "/v1/orders/"+brokerOrderID, nil, nil)
}

// do runs one request against the brokerage and decodes the response into
// out (when non-nil). Error mapping: connection/timeout -> TransportError,
// 5xx -> TransportError, 4xx with a code -> BusinessRejection.
func (t *RESTTransport) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return NewTransportError(op, "encode request", false, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return NewTransportError(op, "create request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		timeout := errors.Is(err, context.DeadlineExceeded) || isTimeout(err)
		return NewTransportError(op, "http request", timeout, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewTransportError(op, "read response", false, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return NewTransportError(op, fmt.Sprintf("brokerage returned %d", resp.StatusCode), false, nil)
	case resp.StatusCode >= 400:
		var rej restRejection
		if err := json.Unmarshal(raw, &rej); err != nil || rej.Code == "" {
			rej.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
			rej.Message = strings.TrimSpace(string(raw))
		}
		return NewBusinessRejection(rej.Code, rej.Message)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewTransportError(op, "decode response", false, err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
