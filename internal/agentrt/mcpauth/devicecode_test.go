package mcpauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeviceCodeFlowHappyPath(t *testing.T) {
	var pollCount int64
	var promptedUserCode string

	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DeviceAuthorizationResponse{
			DeviceCode:      "dc",
			UserCode:        "ABCD-1234",
			VerificationURI: "https://example.com/verify",
			ExpiresIn:       300,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&pollCount, 1)
		if n < 3 {
			json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	flow := NewDeviceCodeFlow()
	cfg := DeviceCodeConfig{
		ClientID:               "c",
		DeviceAuthorizationURL: server.URL + "/device",
		TokenURL:               server.URL + "/token",
		PollIntervalSeconds:    0.02,
		TimeoutSeconds:         2,
	}

	prompter := PrompterFunc(func(_ context.Context, server string, resp DeviceAuthorizationResponse) {
		promptedUserCode = resp.UserCode
	})

	start := time.Now()
	token, err := flow.Authorize(context.Background(), "my-server", cfg, prompter)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if token.AccessToken != "tok" {
		t.Errorf("AccessToken = %q, want %q", token.AccessToken, "tok")
	}
	if token.AuthType != AuthTypeDeviceCode {
		t.Errorf("AuthType = %q, want %q", token.AuthType, AuthTypeDeviceCode)
	}
	wantExpiry := start.Add(3600 * time.Second)
	if token.ExpiresAt == nil || token.ExpiresAt.Sub(wantExpiry).Abs() > 5*time.Second {
		t.Errorf("ExpiresAt = %v, want roughly %v", token.ExpiresAt, wantExpiry)
	}
	if promptedUserCode != "ABCD-1234" {
		t.Errorf("prompted user code = %q, want %q", promptedUserCode, "ABCD-1234")
	}
	if atomic.LoadInt64(&pollCount) != 3 {
		t.Errorf("poll count = %d, want 3", pollCount)
	}
}

func TestDeviceCodeFlowSlowDown(t *testing.T) {
	var pollCount int64
	var pollTimes []time.Time

	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DeviceAuthorizationResponse{DeviceCode: "dc", ExpiresIn: 300})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		pollTimes = append(pollTimes, time.Now())
		n := atomic.AddInt64(&pollCount, 1)
		if n == 1 {
			json.NewEncoder(w).Encode(map[string]string{"error": "slow_down"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok2", "token_type": "Bearer"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	flow := NewDeviceCodeFlow()
	cfg := DeviceCodeConfig{
		ClientID:               "c",
		DeviceAuthorizationURL: server.URL + "/device",
		TokenURL:               server.URL + "/token",
		PollIntervalSeconds:    0.05,
		TimeoutSeconds:         10,
	}

	_, err := flow.Authorize(context.Background(), "s", cfg, nil)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if len(pollTimes) != 2 {
		t.Fatalf("expected 2 polls, got %d", len(pollTimes))
	}
	gap := pollTimes[1].Sub(pollTimes[0])
	if gap < 4900*time.Millisecond {
		t.Errorf("gap between slow_down poll and next = %v, want >= 4.9s", gap)
	}
}

func TestDeviceCodeFlowTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DeviceAuthorizationResponse{DeviceCode: "dc", ExpiresIn: 300})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	flow := NewDeviceCodeFlow()
	cfg := DeviceCodeConfig{
		ClientID:               "c",
		DeviceAuthorizationURL: server.URL + "/device",
		TokenURL:               server.URL + "/token",
		PollIntervalSeconds:    0.05,
		TimeoutSeconds:         0.3,
	}

	_, err := flow.Authorize(context.Background(), "s", cfg, nil)
	authErr, ok := err.(*DeviceCodeAuthError)
	if !ok {
		t.Fatalf("expected *DeviceCodeAuthError, got %T (%v)", err, err)
	}
	if authErr.Kind != DeviceCodeTimeout {
		t.Errorf("Kind = %q, want %q", authErr.Kind, DeviceCodeTimeout)
	}
}

func TestDeviceCodeFlowAccessDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DeviceAuthorizationResponse{DeviceCode: "dc", ExpiresIn: 300})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "access_denied"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	flow := NewDeviceCodeFlow()
	cfg := DeviceCodeConfig{
		ClientID:               "c",
		DeviceAuthorizationURL: server.URL + "/device",
		TokenURL:               server.URL + "/token",
		PollIntervalSeconds:    0.02,
		TimeoutSeconds:         2,
	}

	_, err := flow.Authorize(context.Background(), "s", cfg, nil)
	authErr, ok := err.(*DeviceCodeAuthError)
	if !ok {
		t.Fatalf("expected *DeviceCodeAuthError, got %T (%v)", err, err)
	}
	if authErr.Kind != DeviceCodeDenied {
		t.Errorf("Kind = %q, want %q", authErr.Kind, DeviceCodeDenied)
	}
}
