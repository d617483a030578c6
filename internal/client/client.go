// Package client talks to a running neuraldrift daemon over its unix socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/server"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

const httpTimeout = 5 * time.Second

// Client is a typed API client for the daemon.
type Client struct {
	http    *http.Client
	baseURL string
}

// New returns a client that dials the daemon's unix socket.
func New(socketPath string) *Client {
	tr := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		http:    &http.Client{Timeout: httpTimeout, Transport: tr},
		baseURL: "http://neuraldrift",
	}
}

// NewHTTP returns a client for a daemon reachable at baseURL.
func NewHTTP(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: httpTimeout}
	}
	return &Client{http: hc, baseURL: baseURL}
}

// StatusError is a non-2xx daemon response. It unwraps to the matching
// ledger or session sentinel so callers can use errors.Is across the wire.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusBadRequest:
		return ledger.ErrInvalid
	case http.StatusNotFound:
		return ledger.ErrNotFound
	case http.StatusConflict:
		return session.ErrNoPlan
	}
	return nil
}

func (c *Client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(path string, q url.Values, out any) error {
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.do(http.MethodGet, path, nil, out)
}

func (c *Client) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

// Healthy checks if the daemon is reachable.
func (c *Client) Healthy() bool {
	return c.get("/api/health", nil, nil) == nil
}

// Health returns the daemon's health document.
func (c *Client) Health() (map[string]any, error) {
	var out map[string]any
	err := c.get("/api/health", nil, &out)
	return out, err
}

func (c *Client) Learn(cl ledger.Claim) (ledger.LearnResult, error) {
	var out ledger.LearnResult
	err := c.post("/api/learn", server.LearnRequest{
		Topic:      cl.Topic,
		Fact:       cl.Text,
		Confidence: &cl.Confidence,
		Source:     &cl.Source,
		Verified:   cl.Verified,
	}, &out)
	return out, err
}

func recallQuery(opts ledger.RecallOpts) url.Values {
	q := url.Values{}
	if opts.MinConfidence > 0 {
		q.Set("min", strconv.Itoa(opts.MinConfidence))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	return q
}

func (c *Client) Recall(topic string, opts ledger.RecallOpts) ([]ledger.Entry, error) {
	q := recallQuery(opts)
	q.Set("topic", topic)
	var out []ledger.Entry
	err := c.get("/api/recall", q, &out)
	return out, err
}

func (c *Client) RecallAll(opts ledger.RecallOpts) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := c.get("/api/recall", recallQuery(opts), &out)
	return out, err
}

func (c *Client) Search(keyword string, limit int) ([]ledger.Entry, error) {
	q := url.Values{"q": {keyword}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []ledger.Entry
	err := c.get("/api/search", q, &out)
	return out, err
}

func (c *Client) Verify(topic, substring string, confidence *int) (ledger.Fact, error) {
	var out ledger.Fact
	err := c.post("/api/verify", server.MatchRequest{Topic: topic, Fact: substring, Confidence: confidence}, &out)
	return out, err
}

func (c *Client) Forget(topic, substring string) (ledger.Fact, error) {
	var out ledger.Fact
	err := c.post("/api/forget", server.MatchRequest{Topic: topic, Fact: substring}, &out)
	return out, err
}

func (c *Client) WarmUp(topic string) (ledger.WarmUpResult, error) {
	var out ledger.WarmUpResult
	err := c.post("/api/warmup", map[string]string{"topic": topic}, &out)
	return out, err
}

func (c *Client) Heatmap() ([]ledger.TopicHeat, error) {
	var out []ledger.TopicHeat
	err := c.get("/api/heatmap", nil, &out)
	return out, err
}

func (c *Client) ColdSpots(threshold float64) ([]ledger.ColdSpot, error) {
	q := url.Values{}
	if threshold > 0 {
		q.Set("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
	}
	var out []ledger.ColdSpot
	err := c.get("/api/coldspots", q, &out)
	return out, err
}

func (c *Client) Level() (ledger.LevelInfo, error) {
	var out ledger.LevelInfo
	err := c.get("/api/level", nil, &out)
	return out, err
}

func (c *Client) Stats() (ledger.Stats, error) {
	var out ledger.Stats
	err := c.get("/api/stats", nil, &out)
	return out, err
}

func (c *Client) Topics() ([]ledger.TopicSummary, error) {
	var out []ledger.TopicSummary
	err := c.get("/api/topics", nil, &out)
	return out, err
}

func (c *Client) Associate(text string) ([]ledger.Association, error) {
	var out []ledger.Association
	err := c.post("/api/associate", map[string]string{"text": text}, &out)
	return out, err
}

func (c *Client) Muse(note string, tags []string) (*ledger.LevelEvent, error) {
	var out struct {
		LevelUp *ledger.LevelEvent `json:"level_up"`
	}
	err := c.post("/api/muse", server.MuseRequest{Note: note, Tags: tags}, &out)
	return out.LevelUp, err
}

func (c *Client) Musings(tag string) ([]ledger.SoftNote, error) {
	q := url.Values{}
	if tag != "" {
		q.Set("tag", tag)
	}
	var out []ledger.SoftNote
	err := c.get("/api/musings", q, &out)
	return out, err
}

func (c *Client) Context() (string, error) {
	var out map[string]string
	err := c.get("/api/context", nil, &out)
	return out["context"], err
}

func (c *Client) PlanStart(name string, objectives []string) (*session.Plan, error) {
	var out session.Plan
	if err := c.post("/api/plan", server.PlanRequest{Name: name, Objectives: objectives}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Checkpoint(objective string, status session.Status, data json.RawMessage) (*session.Plan, error) {
	var out session.Plan
	req := server.CheckpointRequest{Objective: objective, Status: status, Data: data}
	if err := c.post("/api/checkpoint", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PlanComplete() (*session.Plan, error) {
	var out session.Plan
	if err := c.post("/api/plan/complete", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Plan() (*session.Plan, error) {
	var out session.Plan
	if err := c.get("/api/plan", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Agent(id, name, task string, status session.AgentStatus) error {
	return c.post("/api/agents", server.AgentRequest{ID: id, Name: name, Task: task, Status: status}, nil)
}

func (c *Client) AgentDone(id, result string) error {
	return c.post("/api/agents/"+url.PathEscape(id)+"/done", map[string]string{"result": result}, nil)
}

func (c *Client) Resume() (session.Report, error) {
	var out session.Report
	err := c.get("/api/resume", nil, &out)
	return out, err
}

func (c *Client) SessionSummary() (session.Summary, error) {
	var out session.Summary
	err := c.get("/api/session", nil, &out)
	return out, err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached,
// as opposed to the daemon rejecting the request.
func IsUnavailable(err error) bool {
	var se *StatusError
	return err != nil && !errors.As(err, &se)
}
