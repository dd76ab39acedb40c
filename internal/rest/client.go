// Package rest implements the record and config store contracts over a
// PostgREST-style HTTP CRUD API (the hosted-table layout the original
// deployment of this system used).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"presenca/internal/checkin"
)

// Client talks to a PostgREST endpoint exposing the records and config
// tables. It is selected with STORE_BACKEND=rest.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a client with a request timeout so a hung store call cannot
// leave the caller pending forever.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// List returns all records ordered by timestamp descending.
func (c *Client) List(ctx context.Context) ([]checkin.Record, error) {
	var recs []checkin.Record
	if err := c.do(ctx, http.MethodGet, "/records?select=*&order=timestamp.desc", nil, "", &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Insert persists a new record. A conflict on the (matricula, data)
// uniqueness constraint surfaces as checkin.ErrRecordExists.
func (c *Client) Insert(ctx context.Context, rec checkin.Record) error {
	err := c.do(ctx, http.MethodPost, "/records", []checkin.Record{rec}, "", nil)
	if err != nil && isConflict(err) {
		return fmt.Errorf("%w: %s on %s", checkin.ErrRecordExists, rec.Matricula, rec.Date)
	}
	return err
}

// Delete removes a record by id. PostgREST deletes matching rows and
// reports success even when none match, so a missing id is not an error.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/records?id=eq."+url.QueryEscape(id), nil, "", nil)
}

// FindByMatriculaAndDate returns the record for matricula on date, or nil.
func (c *Client) FindByMatriculaAndDate(ctx context.Context, matricula, date string) (*checkin.Record, error) {
	path := "/records?matricula=eq." + url.QueryEscape(matricula) +
		"&data=eq." + url.QueryEscape(date) + "&limit=1"
	var recs []checkin.Record
	if err := c.do(ctx, http.MethodGet, path, nil, "", &recs); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// configRow is the wire shape of the singleton config table row.
type configRow struct {
	ID        int       `json:"id"`
	Accepting bool      `json:"checkin_enabled"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// Get reads the config singleton. A missing row is an error; the service
// masks it with the accepting default.
func (c *Client) Get(ctx context.Context) (checkin.Config, error) {
	var rows []configRow
	if err := c.do(ctx, http.MethodGet, "/config?id=eq.1", nil, "", &rows); err != nil {
		return checkin.Config{}, err
	}
	if len(rows) == 0 {
		return checkin.Config{}, fmt.Errorf("config row missing")
	}
	return checkin.Config{Accepting: rows[0].Accepting, UpdatedAt: rows[0].UpdatedAt, UpdatedBy: rows[0].UpdatedBy}, nil
}

// Update upserts the config singleton and returns the stored row.
func (c *Client) Update(ctx context.Context, cfg checkin.Config) (checkin.Config, error) {
	body := []configRow{{ID: 1, Accepting: cfg.Accepting, UpdatedAt: cfg.UpdatedAt, UpdatedBy: cfg.UpdatedBy}}
	var rows []configRow
	err := c.do(ctx, http.MethodPost, "/config", body,
		"resolution=merge-duplicates,return=representation", &rows)
	if err != nil {
		return checkin.Config{}, err
	}
	if len(rows) == 0 {
		return cfg, nil
	}
	return checkin.Config{Accepting: rows[0].Accepting, UpdatedAt: rows[0].UpdatedAt, UpdatedBy: rows[0].UpdatedBy}, nil
}

// Health checks store reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/records?select=id&limit=1", nil, "", nil)
}

// do runs one request against the store and decodes the JSON response into
// out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, payload any, prefer string, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("rest store: create request failed: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("apikey", c.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("rest store: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("rest store: decode response failed: %w", err)
		}
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rest store: status %d: %s", e.code, e.body)
}

// isConflict recognizes the unique-violation shape PostgREST produces: HTTP
// 409 with SQLSTATE 23505 in the error body.
func isConflict(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code == http.StatusConflict || strings.Contains(se.body, "23505")
}
