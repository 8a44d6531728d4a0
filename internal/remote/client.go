// Package remote pushes completed walking sessions to the remote server.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"backend-walklog/internal/logging"
	"backend-walklog/internal/metrics"
	"backend-walklog/internal/session"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

const breakerName = "walk-sync"

// Client posts sessions to {baseURL}/walks. Transport errors, 5xx responses
// and an open breaker wrap session.ErrNetworkFailure; 4xx responses wrap
// session.ErrServerRejected and do not count against the breaker.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[session.Receipt]
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sets the bearer token sent with every push.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}

	metrics.BreakerState.WithLabelValues(breakerName).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[session.Receipt](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, session.ErrServerRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return c
}

type pushRequest struct {
	LocalID string `json:"local_id"`
	session.WalkingSession
}

func (c *Client) Push(ctx context.Context, s session.WalkingSession) (session.Receipt, error) {
	receipt, err := c.cb.Execute(func() (session.Receipt, error) {
		return c.post(ctx, s)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return session.Receipt{}, fmt.Errorf("%w: %v", session.ErrNetworkFailure, err)
	}
	return receipt, err
}

func (c *Client) post(ctx context.Context, s session.WalkingSession) (session.Receipt, error) {
	body, err := json.Marshal(pushRequest{LocalID: s.ID, WalkingSession: s})
	if err != nil {
		return session.Receipt{}, fmt.Errorf("%w: encode: %v", session.ErrServerRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/walks", bytes.NewReader(body))
	if err != nil {
		return session.Receipt{}, fmt.Errorf("%w: %v", session.ErrNetworkFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", s.ID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return session.Receipt{}, fmt.Errorf("%w: %v", session.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return session.Receipt{}, fmt.Errorf("%w: read response: %v", session.ErrNetworkFailure, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var receipt session.Receipt
		if err := json.Unmarshal(payload, &receipt); err != nil || receipt.ServerID == "" {
			return session.Receipt{}, fmt.Errorf("%w: malformed receipt", session.ErrNetworkFailure)
		}
		return receipt, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return session.Receipt{}, fmt.Errorf("%w: status %d: %s", session.ErrServerRejected, resp.StatusCode, strings.TrimSpace(string(payload)))
	default:
		return session.Receipt{}, fmt.Errorf("%w: status %d", session.ErrNetworkFailure, resp.StatusCode)
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
