package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HostStatus is one row of the coordinator's host table as served by its
// admin endpoint.
type HostStatus struct {
	Host   string `json:"host"`
	Range  string `json:"range,omitempty"`
	Linked bool   `json:"linked"`
	Health string `json:"health,omitempty"`
}

// HostsResponse is the body of GET /hosts.
type HostsResponse struct {
	Hosts []HostStatus `json:"hosts"`
}

// AddHostRequest is the body of POST /hosts.
type AddHostRequest struct {
	Host string `json:"host"`
}

// AddHostResponse reports whether the host was new.
type AddHostResponse struct {
	Added bool `json:"added"`
}

// StatusResponse is the body of GET /health and of error replies.
type StatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends body as JSON and decodes the reply into out, if out is not nil.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

// GetJSON fetches url and decodes the JSON reply into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var st StatusResponse
		if data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)); json.Unmarshal(data, &st) == nil && st.Error != "" {
			return fmt.Errorf("http %s: %d: %s", req.URL, resp.StatusCode, st.Error)
		}
		return fmt.Errorf("http %s: %d", req.URL, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// BaseURL turns an admin address into a URL prefix.
func BaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + strings.TrimRight(addr, "/")
}
