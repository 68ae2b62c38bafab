package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

const executePath = "/api/v1/actions/execute"

// Correlation and acting-user pass-through headers sent with every remote
// invocation.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderActingUserID  = "X-Acting-User-Id"
	HeaderActingEmail   = "X-Acting-User-Email"
	HeaderActingName    = "X-Acting-User-Name"
)

type (
	// Connector is a resolved remote action endpoint.
	Connector struct {
		// URL is the connector base URL; the execute path is appended.
		URL string
		// Limiter optionally throttles requests to the connector. Nil means
		// unthrottled.
		Limiter *rate.Limiter
	}

	// RemoteClient invokes actions served by HTTP connectors. Transport
	// failures and malformed responses surface as retriable Results so the
	// conductor's retry policy governs them uniformly.
	RemoteClient struct {
		client     *http.Client
		connectors map[string]Connector
	}

	// RemoteOption customizes a RemoteClient.
	RemoteOption func(*RemoteClient)

	// remoteRequest is the wire body POSTed to connectors.
	remoteRequest struct {
		ActionType       string         `json:"actionType"`
		Parameters       map[string]any `json:"parameters"`
		ExecutionContext remoteContext  `json:"executionContext"`
	}

	remoteContext struct {
		ExecutionID   string         `json:"executionId"`
		NodeID        string         `json:"nodeId"`
		CorrelationID string         `json:"correlationId,omitempty"`
		Principal     map[string]any `json:"principal,omitempty"`
	}
)

// WithHTTPClient overrides the HTTP client used for connector calls.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(rc *RemoteClient) { rc.client = c }
}

// NewRemoteClient builds a client over the configured connectors.
func NewRemoteClient(connectors map[string]Connector, opts ...RemoteOption) *RemoteClient {
	rc := &RemoteClient{
		client:     &http.Client{Timeout: 0}, // per-call deadline comes from ctx
		connectors: connectors,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Invoke POSTs the rendered parameters to the connector serving the action
// and decodes the uniform Result document. Non-2xx responses with a
// well-formed Result body are returned as-is; transport failures and
// undecodable responses become retriable Results with a synthesized message.
func (rc *RemoteClient) Invoke(ctx context.Context, remote *Remote, actionType string, inv Invocation) (*Result, error) {
	conn, ok := rc.connectors[remote.Connector]
	if !ok {
		return nil, fmt.Errorf("connector %q is not configured", remote.Connector)
	}
	if conn.Limiter != nil {
		if err := conn.Limiter.Wait(ctx); err != nil {
			return retriable(fmt.Sprintf("connector %q: rate limit wait: %v", remote.Connector, err)), nil
		}
	}

	body := remoteRequest{
		ActionType: actionType,
		Parameters: inv.Parameters,
		ExecutionContext: remoteContext{
			ExecutionID:   inv.ExecutionID,
			NodeID:        inv.NodeID,
			CorrelationID: inv.CorrelationID,
		},
	}
	if inv.Principal != nil {
		body.ExecutionContext.Principal = map[string]any{
			"userId":      inv.Principal.UserID,
			"email":       inv.Principal.Email,
			"displayName": inv.Principal.DisplayName,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode connector request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.URL+executePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build connector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if inv.CorrelationID != "" {
		req.Header.Set(HeaderCorrelationID, inv.CorrelationID)
	}
	if p := inv.Principal; p != nil {
		req.Header.Set(HeaderActingUserID, p.UserID)
		if p.Email != "" {
			req.Header.Set(HeaderActingEmail, p.Email)
		}
		if p.DisplayName != "" {
			req.Header.Set(HeaderActingName, p.DisplayName)
		}
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		return retriable(fmt.Sprintf("connector %q: %v", remote.Connector, err)), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return retriable(fmt.Sprintf("connector %q: read response: %v", remote.Connector, err)), nil
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil || !result.Status.Valid() {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return retriable(fmt.Sprintf("connector %q: undecodable response body", remote.Connector)), nil
		}
		return retriable(fmt.Sprintf("connector %q: HTTP %d", remote.Connector, resp.StatusCode)), nil
	}
	return &result, nil
}

func retriable(msg string) *Result {
	return &Result{Status: StatusRetryable, ErrorMessage: msg}
}

// NewConnectors resolves connector configuration (base URL plus optional
// requests-per-second throttle) into Connector values.
func NewConnectors(cfg map[string]ConnectorConfig) map[string]Connector {
	out := make(map[string]Connector, len(cfg))
	for id, c := range cfg {
		conn := Connector{URL: c.URL}
		if c.RequestsPerSecond > 0 {
			burst := int(c.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
			conn.Limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
		}
		out[id] = conn
	}
	return out
}

// ConnectorConfig is the configuration entry for a single connector.
type ConnectorConfig struct {
	// URL is the connector base URL.
	URL string `yaml:"url"`
	// RequestsPerSecond throttles calls to the connector. Zero disables
	// throttling.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// Dispatcher routes invocations to local functions or remote connectors and
// implements Invoker for the conductor.
type Dispatcher struct {
	registry *Registry
	remote   *RemoteClient
}

// NewDispatcher builds the default Invoker over a registry and remote client.
// The remote client may be nil when no remote actions are registered.
func NewDispatcher(registry *Registry, remote *RemoteClient) *Dispatcher {
	return &Dispatcher{registry: registry, remote: remote}
}

// Invoke resolves the action type and executes the matching variant.
func (d *Dispatcher) Invoke(ctx context.Context, actionType string, inv Invocation) (*Result, error) {
	h, err := d.registry.Resolve(actionType)
	if err != nil {
		return nil, err
	}
	if h.Func != nil {
		res, err := h.Func(ctx, inv)
		if err != nil {
			// A handler error is a failure report, not a transport fault:
			// honor context cancellation, treat the rest as permanent.
			if ctx.Err() != nil {
				return retriable(fmt.Sprintf("action %q: %v", actionType, err)), nil
			}
			return &Result{Status: StatusFailed, ErrorMessage: err.Error()}, nil
		}
		if res == nil {
			return &Result{Status: StatusFailed, ErrorMessage: fmt.Sprintf("action %q returned no result", actionType)}, nil
		}
		return res, nil
	}
	if d.remote == nil {
		return nil, fmt.Errorf("action %q is remote but no remote client is configured", actionType)
	}
	return d.remote.Invoke(ctx, h.Remote, actionType, inv)
}
