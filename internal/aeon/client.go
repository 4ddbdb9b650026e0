// Package aeon is a small client for the Aeon request-tracking API.
package aeon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrStatus = errors.New("unexpected response status")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("aeon %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Transaction is one Aeon request. Fields holds the full record.
type Transaction struct {
	Number int
	Fields map[string]any
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client talks to the Aeon web API.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("aeon base url not configured")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse aeon base url: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// PendingTransactions lists the transactions whose photoduplication status
// equals status.
func (c *Client) PendingTransactions(ctx context.Context, status string) ([]Transaction, error) {
	query := url.Values{}
	query.Set("$filter", "photoduplicationstatus eq "+status)

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/odata/Requests", query, nil, &raw); err != nil {
		return nil, err
	}

	records, err := decodeRecords(raw)
	if err != nil {
		return nil, err
	}

	txns := make([]Transaction, 0, len(records))
	for _, rec := range records {
		n, ok := transactionNumber(rec)
		if !ok {
			return nil, fmt.Errorf("transaction record without transaction number: %v", rec)
		}
		txns = append(txns, Transaction{Number: n, Fields: rec})
	}
	return txns, nil
}

// Route moves transaction number to status.
func (c *Client) Route(ctx context.Context, number int, status string) error {
	body := map[string]string{"newStatus": status}
	return c.do(ctx, http.MethodPost, "/Requests/"+strconv.Itoa(number)+"/route", nil, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-AEON-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tiffpress")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("aeon %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode aeon response: %w", err)
	}
	return nil
}

// decodeRecords accepts a bare array or an OData envelope with "value".
func decodeRecords(raw json.RawMessage) ([]map[string]any, error) {
	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}
	var envelope struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return envelope.Value, nil
}

// transactionNumber finds the TransactionNumber key regardless of case.
func transactionNumber(rec map[string]any) (int, bool) {
	for k, v := range rec {
		if !strings.EqualFold(k, "transactionnumber") {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case string:
			i, err := strconv.Atoi(n)
			return i, err == nil
		}
	}
	return 0, false
}
