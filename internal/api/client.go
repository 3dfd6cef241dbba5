package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dreamware/testcloud/internal/cluster"
	"github.com/dreamware/testcloud/internal/coordinator"
)

// RemoteError is a failure reported by the coordinator API. It unwraps to
// the matching coordinator sentinel, so errors.Is works across the wire.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("coordinator api: %d %s", e.Status, e.Code)
	}
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	for _, k := range errorKinds {
		if k.code == e.Code {
			return k.err
		}
	}
	return nil
}

// Client talks to a coordinator's HTTP API.
//
// A start blocks on the coordinator for up to its join timeout, so the
// default HTTP client carries no timeout; bound calls with ctx instead.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the coordinator at base, for example
// "http://127.0.0.1:8080".
func NewClient(base string) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: &http.Client{}}
}

// Start launches a worker and returns its identity once it has joined.
func (c *Client) Start(ctx context.Context, release, nodeID string, extraArgs []string, opts coordinator.Options) (string, error) {
	var resp StartResponse
	req := StartRequest{Release: release, NodeID: nodeID, Args: extraArgs, Options: opts}
	if err := c.do(ctx, http.MethodPost, "/nodes", req, &resp); err != nil {
		return "", err
	}
	return resp.Identity, nil
}

// Stop stops and forgets a worker.
func (c *Client) Stop(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodDelete, "/nodes/"+url.PathEscape(nodeID), nil, nil)
}

// Query decodes the value of field into out. nodeID may be coordinator.Global.
func (c *Client) Query(ctx context.Context, nodeID string, field coordinator.Field, out any) error {
	var resp QueryResponse
	path := "/nodes/" + url.PathEscape(nodeID) + "/" + url.PathEscape(string(field))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	return json.Unmarshal(resp.Value, out)
}

// QueryString is Query for the string-valued fields.
func (c *Client) QueryString(ctx context.Context, nodeID string, field coordinator.Field) (string, error) {
	var s string
	err := c.Query(ctx, nodeID, field, &s)
	return s, err
}

// Nodes lists the tracked records sorted by node id.
func (c *Client) Nodes(ctx context.Context) ([]coordinator.NodeRecord, error) {
	var resp struct {
		Nodes []coordinator.NodeRecord `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/nodes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// Members lists the workers that have joined.
func (c *Client) Members(ctx context.Context) ([]cluster.NodeInfo, error) {
	var resp struct {
		Members []cluster.NodeInfo `json:"members"`
	}
	if err := c.do(ctx, http.MethodGet, "/members", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// Shutdown stops every worker and ends the coordinator run.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil, nil)
}

// WaitHealthy polls /health until it answers 200 or ctx is done.
func (c *Client) WaitHealthy(ctx context.Context, interval time.Duration) error {
	for {
		if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		remote := &RemoteError{Status: resp.StatusCode}
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
			remote.Code = e.Code
			remote.Message = e.Error
		}
		return remote
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
