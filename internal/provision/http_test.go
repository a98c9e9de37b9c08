package provision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvisioner_ConfirmReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/environments/DEMO_20260801_abc123", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		// Not ready on the first poll, ready on the second.
		ready := calls.Add(1) >= 2
		json.NewEncoder(w).Encode(statusResponse{Ready: ready, State: "provisioning"})
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, "test-key", WithPollInterval(5*time.Millisecond))
	require.NoError(t, p.ConfirmReady(context.Background(), "DEMO_20260801_abc123"))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestHTTPProvisioner_ConfirmReadyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(statusResponse{Ready: false, State: "provisioning"})
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, "", WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.ConfirmReady(ctx, "DEMO_20260801_abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestHTTPProvisioner_ConfirmReadyNonTransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, "bad-key", WithPollInterval(5*time.Millisecond))

	err := p.ConfirmReady(context.Background(), "DEMO_20260801_abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestHTTPProvisioner_TeardownRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, "test-key")
	require.NoError(t, p.Teardown(context.Background(), "DEMO_20260801_abc123"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPProvisioner_TeardownGoneIsReleased(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, "")
	assert.NoError(t, p.Teardown(context.Background(), "DEMO_20260801_abc123"))
}

func TestStaticProvisioner(t *testing.T) {
	var p Provisioner = Static{}
	assert.NoError(t, p.ConfirmReady(context.Background(), "DEMO_20260801_abc123"))
	assert.NoError(t, p.Teardown(context.Background(), "DEMO_20260801_abc123"))
}
