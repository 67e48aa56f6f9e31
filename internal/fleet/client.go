// Package fleet implements authenticated HTTPS/mTLS calls from this node to
// its configured peers: execute, health, upgrade, restart (spec §4.4 C5).
package fleet

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/meshagent/meshnode/internal/config"
)

// ExecuteResult is the outcome of a prompt dispatched to a peer.
type ExecuteResult struct {
	Success       bool             `json:"success"`
	Response      string           `json:"response,omitempty"`
	ToolsExecuted []ToolExecution  `json:"tools_executed,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// ToolExecution mirrors the tool-call summary returned by a peer's
// /v1/fleet/execute response.
type ToolExecution struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// HealthResult is the unauthenticated health probe response shape.
type HealthResult struct {
	Healthy bool           `json:"healthy"`
	Info    map[string]any `json:"info,omitempty"`
}

// UpgradeResult covers both the GET (check) and POST (perform) responses.
type UpgradeResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	CurrentVersion  string `json:"currentVersion,omitempty"`
	LatestVersion   string `json:"latestVersion,omitempty"`
	UpgradeAvailable bool  `json:"upgradeAvailable,omitempty"`
	Restarting      bool   `json:"restarting,omitempty"`
}

// RestartResult is the outcome of asking a peer to restart.
type RestartResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client issues authenticated calls to fleet peers, resolving TLS
// credentials per spec §4.4: a peer's own cert/key override the fleet
// default; if the chosen pair fails to load, the request proceeds without
// client credentials and any resulting error surfaces as a normal HTTP
// failure.
type Client struct {
	defaultTLS *config.TLSCredentials
	httpClient func(timeout time.Duration, tlsCfg *tls.Config) *http.Client
}

// NewClient returns a Client using fleetDefault as the fallback TLS material
// for peers without their own override.
func NewClient(fleetDefault *config.TLSCredentials) *Client {
	return &Client{
		defaultTLS: fleetDefault,
		httpClient: func(timeout time.Duration, tlsCfg *tls.Config) *http.Client {
			transport := &http.Transport{TLSClientConfig: tlsCfg}
			return &http.Client{Timeout: timeout, Transport: transport}
		},
	}
}

func (c *Client) clientFor(node config.FleetNode, timeout time.Duration) *http.Client {
	creds := node.TLS
	if creds == nil {
		creds = c.defaultTLS
	}
	tlsCfg, err := loadTLSConfig(creds)
	if err != nil {
		// Per spec §4.4: proceed without client credentials; the request
		// itself will fail normally if the peer actually requires mTLS.
		tlsCfg = nil
	}
	return c.httpClient(timeout, tlsCfg)
}

func loadTLSConfig(creds *config.TLSCredentials) (*tls.Config, error) {
	if creds == nil || creds.CertFile == "" || creds.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(creds.CertFile, creds.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client cert: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if creds.CAFile != "" {
		pem, err := os.ReadFile(creds.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", creds.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, method, url string, node config.FleetNode, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if node.Token != "" {
		req.Header.Set("Authorization", "Bearer "+node.Token)
	}
	return client.Do(req)
}

// QueryFleetNode dispatches a prompt to a single peer's execute endpoint.
func (c *Client) QueryFleetNode(ctx context.Context, node config.FleetNode, prompt, model, system string) ExecuteResult {
	client := c.clientFor(node, 0) // no overall client timeout; ctx governs
	body := map[string]any{"prompt": prompt}
	if model != "" {
		body["model"] = model
	}
	if system != "" {
		body["system"] = system
	}

	resp, err := c.do(ctx, client, http.MethodPost, strings.TrimRight(node.URL, "/")+"/v1/fleet/execute", node, body)
	if err != nil {
		return ExecuteResult{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return ExecuteResult{Success: false, Error: fmt.Sprintf("peer returned %d: %s", resp.StatusCode, string(data))}
	}
	var result ExecuteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ExecuteResult{Success: false, Error: fmt.Sprintf("decoding peer response: %s", err)}
	}
	return result
}

// nodeResult pairs an ExecuteResult with its originating index so parallel
// fan-out can restore input ordering.
type nodeResult struct {
	index  int
	result ExecuteResult
}

// QueryFleetNodes fans a prompt out to every node in parallel; the returned
// slice preserves the input ordering regardless of which call finishes
// first.
func (c *Client) QueryFleetNodes(ctx context.Context, nodes []config.FleetNode, prompt, model, system string) []ExecuteResult {
	results := make([]ExecuteResult, len(nodes))
	ch := make(chan nodeResult, len(nodes))
	for i, node := range nodes {
		go func(i int, node config.FleetNode) {
			ch <- nodeResult{index: i, result: c.QueryFleetNode(ctx, node, prompt, model, system)}
		}(i, node)
	}
	for range nodes {
		r := <-ch
		results[r.index] = r.result
	}
	return results
}

// GetFleetHealth probes every peer's unauthenticated health endpoint with a
// 5s timeout, returning healthy=false (with the error in Info) on any
// failure rather than propagating it.
func (c *Client) GetFleetHealth(ctx context.Context, nodes []config.FleetNode) map[string]HealthResult {
	out := make(map[string]HealthResult, len(nodes))
	type pair struct {
		name   string
		result HealthResult
	}
	ch := make(chan pair, len(nodes))
	for _, node := range nodes {
		go func(node config.FleetNode) {
			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			client := c.clientFor(node, 5*time.Second)
			resp, err := c.do(reqCtx, client, http.MethodGet, strings.TrimRight(node.URL, "/")+"/v1/fleet/health", node, nil)
			if err != nil {
				ch <- pair{node.Name, HealthResult{Healthy: false, Info: map[string]any{"error": err.Error()}}}
				return
			}
			defer resp.Body.Close()
			var info map[string]any
			_ = json.NewDecoder(resp.Body).Decode(&info)
			ch <- pair{node.Name, HealthResult{Healthy: resp.StatusCode < 300, Info: info}}
		}(node)
	}
	for range nodes {
		p := <-ch
		out[p.name] = p.result
	}
	return out
}

// UpgradeFleetNode checks (perform=false, GET) or triggers (perform=true,
// POST) an upgrade on node, with a 60s timeout.
func (c *Client) UpgradeFleetNode(ctx context.Context, node config.FleetNode, perform bool) (UpgradeResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	method := http.MethodGet
	if perform {
		method = http.MethodPost
	}
	client := c.clientFor(node, 60*time.Second)
	resp, err := c.do(reqCtx, client, method, strings.TrimRight(node.URL, "/")+"/v1/fleet/upgrade", node, nil)
	if err != nil {
		return UpgradeResult{}, err
	}
	defer resp.Body.Close()

	var result UpgradeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UpgradeResult{}, fmt.Errorf("decoding upgrade response: %w", err)
	}
	return result, nil
}

// RestartFleetNode asks node to restart, with a 10s timeout. A socket
// reset/EOF while reading the response is reinterpreted as success: the
// peer closes its socket intentionally as part of restarting.
func (c *Client) RestartFleetNode(ctx context.Context, node config.FleetNode) RestartResult {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := c.clientFor(node, 10*time.Second)
	resp, err := c.do(reqCtx, client, http.MethodPost, strings.TrimRight(node.URL, "/")+"/v1/fleet/restart", node, nil)
	if err != nil {
		if isConnectionReset(err) {
			return RestartResult{Success: true, Message: "restarting"}
		}
		return RestartResult{Success: false, Message: err.Error()}
	}
	defer resp.Body.Close()

	var result RestartResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if isConnectionReset(err) {
			return RestartResult{Success: true, Message: "restarting"}
		}
		return RestartResult{Success: false, Message: err.Error()}
	}
	return result
}

func isConnectionReset(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return strings.Contains(netErr.Error(), "connection reset") || strings.Contains(netErr.Error(), "broken pipe")
	}
	return strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "EOF")
}
