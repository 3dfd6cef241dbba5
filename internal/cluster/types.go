package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Control commands understood by a worker's /control endpoint.
const (
	CommandStop  = "stop"
	CommandCrash = "crash"
)

// NodeInfo describes a joined worker.
type NodeInfo struct {
	JoinedAt time.Time `json:"joined_at"`
	ID       string    `json:"id"`       // logical node id
	Identity string    `json:"identity"` // resolved identity, e.g. "n1@127.0.0.1"
	Addr     string    `json:"addr"`     // base URL of the worker's HTTP API
}

type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

type ControlRequest struct {
	Command string `json:"command"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
