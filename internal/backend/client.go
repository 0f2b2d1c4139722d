package backend

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

	"academy/internal/auth"
)

// Client calls the academy REST backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  auth.TokenSource
}

// New creates a client with configurable timeout.
func New(baseURL string, tokens auth.TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// WithTokens returns a client for another user sharing the same transport.
func (c *Client) WithTokens(tokens auth.TokenSource) *Client {
	cp := *c
	cp.Tokens = tokens
	return &cp
}

// Students returns the roster for a calendar day.
func (c *Client) Students(ctx context.Context, date string) ([]Student, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("backend: invalid date %q: %w", date, err)
	}
	var out StudentsResponse
	q := url.Values{"date": {date}}
	if err := c.do(ctx, "students", http.MethodGet, "/api/attendance/students", q, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Students, nil
}

// Mark writes one attendance record. There is no batch endpoint.
func (c *Client) Mark(ctx context.Context, req MarkRequest) error {
	if req.UserType == "" {
		req.UserType = "student"
	}
	var hdr http.Header
	if req.Cycle != "" {
		hdr = http.Header{"X-Save-Cycle": {req.Cycle}}
	}
	return c.do(ctx, "mark", http.MethodPost, "/api/attendance/mark", nil, req, hdr, nil)
}

// Reports returns historical records for a branch and date range.
func (c *Client) Reports(ctx context.Context, q ReportQuery) ([]ReportRecord, error) {
	params := url.Values{}
	if q.BranchID != "" {
		params.Set("branch_id", q.BranchID)
	}
	if q.StartDate != "" {
		params.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		params.Set("end_date", q.EndDate)
	}
	var out ReportResponse
	if err := c.do(ctx, "reports", http.MethodGet, "/api/attendance/reports", params, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Export asks the backend for a rendered export. ErrExportUnavailable means
// the caller should generate the file locally. An empty date leaves the day
// to the backend.
func (c *Client) Export(ctx context.Context, format, date string) (*ExportFile, error) {
	q := url.Values{"format": {format}}
	if date != "" {
		q.Set("date", date)
	}
	var out ExportFile
	err := c.do(ctx, "export", http.MethodGet, "/api/attendance/export", q, nil, nil, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusNotImplemented) {
			return nil, ErrExportUnavailable
		}
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, in any, hdr http.Header, out any) error {
	if c.Tokens == nil {
		return ErrAuth
	}
	token, err := c.Tokens.Token(ctx)
	if err != nil || token == "" {
		return ErrAuth
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuth
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: %s: decode response: %w", op, err)
	}
	return nil
}
