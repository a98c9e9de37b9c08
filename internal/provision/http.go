package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-cli/internal/resilience"
)

// HTTPProvisioner drives a remote provisioning service over REST.
type HTTPProvisioner struct {
	baseURL string
	apiKey  string
	client  *http.Client
	poll    time.Duration
}

// HTTPOption configures an HTTPProvisioner.
type HTTPOption func(*HTTPProvisioner)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvisioner) { p.client = c }
}

// WithPollInterval overrides the readiness poll interval.
func WithPollInterval(d time.Duration) HTTPOption {
	return func(p *HTTPProvisioner) { p.poll = d }
}

// NewHTTP creates a provisioner against baseURL.
func NewHTTP(baseURL, apiKey string, opts ...HTTPOption) *HTTPProvisioner {
	p := &HTTPProvisioner{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		poll:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type statusResponse struct {
	Ready bool   `json:"ready"`
	State string `json:"state"`
}

// ConfirmReady polls the environment status until it reports ready or
// the context expires.
func (p *HTTPProvisioner) ConfirmReady(ctx context.Context, sessionID string) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		ready, err := p.checkStatus(ctx, sessionID)
		if err != nil && !resilience.IsTransient(err) {
			return err
		}
		if err != nil {
			zap.L().Debug("provision: status check failed, will retry",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return eris.Wrapf(ctx.Err(), "provision: environment for %s not ready", sessionID)
		case <-ticker.C:
		}
	}
}

// Teardown releases the environment. The release call is retried on
// transient failures so a flaky provisioning service does not leak
// environments.
func (p *HTTPProvisioner) Teardown(ctx context.Context, sessionID string) error {
	policy := resilience.DefaultPolicy()
	policy.OnRetry = resilience.RetryLogger("provision")

	_, err := resilience.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.release(ctx, sessionID)
	})
	return err
}

func (p *HTTPProvisioner) checkStatus(ctx context.Context, sessionID string) (bool, error) {
	url := fmt.Sprintf("%s/environments/%s", p.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, eris.Wrap(err, "provision: create status request")
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, resilience.NewTransient(eris.Wrap(err, "provision: status request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("provision: status returned %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return false, resilience.NewTransient(err, resp.StatusCode)
		}
		return false, err
	}

	var status statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&status); err != nil {
		return false, eris.Wrap(err, "provision: decode status")
	}
	return status.Ready, nil
}

func (p *HTTPProvisioner) release(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/environments/%s", p.baseURL, sessionID)
	payload, _ := json.Marshal(map[string]string{"session_id": sessionID})

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "provision: create teardown request")
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return resilience.NewTransient(eris.Wrap(err, "provision: teardown request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Already gone counts as released.
		return nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransient(
			eris.Errorf("provision: teardown returned %d", resp.StatusCode), resp.StatusCode)
	default:
		return eris.Errorf("provision: teardown returned %d", resp.StatusCode)
	}
}

func (p *HTTPProvisioner) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
