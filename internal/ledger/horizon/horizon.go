// Package horizon implements ledger.Client against a Horizon-compatible
// HTTP API: transactions for an account are streamed as server-sent
// events, operations are fetched per transaction as JSON pages.
//
// A dropped stream is reported to the handler as a
// ledger.TransientError and reopened from the last seen paging token
// with capped exponential backoff. Only Close ends a subscription.
package horizon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/paywatch/internal/ledger"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
	operationsLimit   = 200
)

// Client streams a Horizon server.
type Client struct {
	baseURL    *url.URL
	http       *http.Client
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient. The client must not set
// a total timeout, since streams are long lived.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithBackoff bounds the reconnect delay.
func WithBackoff(min, max time.Duration) Option {
	return func(cl *Client) {
		cl.minBackoff = min
		cl.maxBackoff = max
	}
}

// New returns a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse horizon url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse horizon url: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:    u,
		http:       http.DefaultClient,
		logger:     slog.Default(),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// Subscribe implements ledger.Client. It returns once the stream
// goroutine is started; connection failures surface via h.HandleError.
func (c *Client) Subscribe(ctx context.Context, address string, h ledger.Handler) (ledger.Subscription, error) {
	if address == "" {
		return nil, errors.New("subscribe: empty address")
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{
		client:  c,
		address: address,
		handler: h,
		cursor:  "now",
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(streamCtx)
	return s, nil
}

type stream struct {
	client  *Client
	address string
	handler ledger.Handler
	cursor  string

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	// handling is set while the handler runs on the stream goroutine.
	handling atomic.Bool
}

// Close stops the stream and waits for its goroutine to exit. Called
// from inside the handler it only cancels: the goroutine is the caller,
// and it exits once the handler returns.
func (s *stream) Close() error {
	s.closeOnce.Do(s.cancel)
	if s.handling.Load() {
		return nil
	}
	<-s.done
	return nil
}

func (s *stream) run(ctx context.Context) {
	defer close(s.done)

	backoff := s.client.minBackoff
	for {
		delivered, err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			backoff = s.client.minBackoff
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		s.handler.HandleError(&ledger.TransientError{Op: "stream", Address: s.address, Err: err})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.client.maxBackoff {
			backoff = s.client.maxBackoff
		}
	}
}

// consume opens one SSE connection and dispatches events until it
// ends. Reports whether any transaction was delivered.
func (s *stream) consume(ctx context.Context) (bool, error) {
	query := url.Values{"cursor": {s.cursor}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.client.endpoint("/accounts/"+url.PathEscape(s.address)+"/transactions", query), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %s", resp.Status)
	}

	delivered := false
	var data bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if s.dispatch(ctx, data.Bytes()) {
					delivered = true
				}
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		}
	}
	return delivered, scanner.Err()
}

// dispatch decodes one event payload. Horizon opens every stream with
// a "hello" string event, which is ignored.
func (s *stream) dispatch(ctx context.Context, payload []byte) bool {
	if len(payload) == 0 || payload[0] != '{' {
		return false
	}
	var tx ledger.Transaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		s.client.logger.Warn("horizon: undecodable stream event", "address", s.address, "error", err)
		return false
	}
	tx.Raw = append(json.RawMessage(nil), payload...)
	if tx.PagingToken != "" {
		s.cursor = tx.PagingToken
	}
	if !tx.Successful {
		s.client.logger.Debug("horizon: skipping failed transaction", "tx", tx.ID)
		return false
	}
	s.handling.Store(true)
	defer s.handling.Store(false)
	s.handler.HandleTransaction(ctx, tx)
	return true
}

type operationsPage struct {
	Embedded struct {
		Records []ledger.Operation `json:"records"`
	} `json:"_embedded"`
}

// FetchOperations implements ledger.Client.
func (c *Client) FetchOperations(ctx context.Context, tx ledger.Transaction) ([]ledger.Operation, error) {
	query := url.Values{"limit": {fmt.Sprintf("%d", operationsLimit)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("/transactions/"+url.PathEscape(tx.ID)+"/operations", query), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch operations: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ledger.TransientError{Op: "fetch operations", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ledger.TransientError{Op: "fetch operations", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var page operationsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("fetch operations: decode: %w", err)
	}
	return page.Embedded.Records, nil
}

var _ ledger.Client = (*Client)(nil)
