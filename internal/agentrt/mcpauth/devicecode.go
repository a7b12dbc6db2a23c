package mcpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentmesh/core/internal/backoff"
	"github.com/agentmesh/core/internal/observability"
)

// DeviceCodeErrorKind discriminates why a device-code flow failed to
// produce a token.
type DeviceCodeErrorKind string

const (
	DeviceCodeDenied  DeviceCodeErrorKind = "denied"
	DeviceCodeExpired DeviceCodeErrorKind = "expired"
	DeviceCodeNetwork DeviceCodeErrorKind = "network"
	DeviceCodeTimeout DeviceCodeErrorKind = "timeout"
)

// DeviceCodeAuthError is the terminal error a device-code flow raises.
type DeviceCodeAuthError struct {
	Kind    DeviceCodeErrorKind
	Message string
	Cause   error
}

func (e *DeviceCodeAuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("device code auth %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("device code auth %s", e.Kind)
}

func (e *DeviceCodeAuthError) Unwrap() error { return e.Cause }

// DeviceAuthorizationResponse is RFC 8628 §3.2's authorization response.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval,omitempty"`
}

// DeviceCodeConfig is the device_code branch of AuthConfig.
type DeviceCodeConfig struct {
	ClientID               string
	ClientSecret           string
	DeviceAuthorizationURL string
	TokenURL               string
	Scope                  string

	// PollIntervalSeconds is used when the server's authorization
	// response omits its own interval. Defaults to 5. Fractional values
	// are accepted (tests use sub-second intervals).
	PollIntervalSeconds float64
	// TimeoutSeconds bounds the whole flow, intersected with the
	// server's own expires_in. Defaults to 300.
	TimeoutSeconds float64

	// TreatUnknownAsTerminal controls how an unrecognized token-poll
	// error body is handled. By default it's treated as transient and
	// polling continues; a caller that knows its provider's full error
	// vocabulary can opt into failing fast on anything it doesn't
	// recognize.
	TreatUnknownAsTerminal bool
}

func (c DeviceCodeConfig) pollInterval() time.Duration {
	if c.PollIntervalSeconds > 0 {
		return time.Duration(c.PollIntervalSeconds * float64(time.Second))
	}
	return 5 * time.Second
}

func (c DeviceCodeConfig) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds * float64(time.Second))
	}
	return 300 * time.Second
}

// Prompter surfaces a pending device-code authorization to an operator:
// the verification URI and user code have to reach a human somehow, but
// the rendering is up to the caller.
type Prompter interface {
	Prompt(ctx context.Context, serverName string, resp DeviceAuthorizationResponse)
}

// PrompterFunc adapts a plain function to Prompter.
type PrompterFunc func(ctx context.Context, serverName string, resp DeviceAuthorizationResponse)

func (f PrompterFunc) Prompt(ctx context.Context, serverName string, resp DeviceAuthorizationResponse) {
	f(ctx, serverName, resp)
}

// DeviceCodeFlow drives one RFC 8628 device authorization grant.
type DeviceCodeFlow struct {
	httpClient *http.Client
	now        func() time.Time
	logger     *observability.Logger
}

// DeviceCodeOption configures a DeviceCodeFlow.
type DeviceCodeOption func(*DeviceCodeFlow)

func WithDeviceCodeHTTPClient(client *http.Client) DeviceCodeOption {
	return func(f *DeviceCodeFlow) {
		if client != nil {
			f.httpClient = client
		}
	}
}

func WithDeviceCodeClock(now func() time.Time) DeviceCodeOption {
	return func(f *DeviceCodeFlow) {
		if now != nil {
			f.now = now
		}
	}
}

func WithDeviceCodeLogger(logger *observability.Logger) DeviceCodeOption {
	return func(f *DeviceCodeFlow) {
		f.logger = logger
	}
}

// NewDeviceCodeFlow builds a flow driver.
func NewDeviceCodeFlow(opts ...DeviceCodeOption) *DeviceCodeFlow {
	f := &DeviceCodeFlow{httpClient: http.DefaultClient, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Authorize runs the full flow: authorization request, operator prompt,
// and the polling loop, returning a StoredToken on success.
func (f *DeviceCodeFlow) Authorize(ctx context.Context, serverName string, cfg DeviceCodeConfig, prompter Prompter) (*StoredToken, error) {
	authResp, err := f.requestAuthorization(ctx, cfg)
	if err != nil {
		return nil, &DeviceCodeAuthError{Kind: DeviceCodeNetwork, Message: err.Error(), Cause: err}
	}

	if prompter != nil {
		prompter.Prompt(ctx, serverName, *authResp)
	}

	return f.poll(ctx, cfg, *authResp)
}

func (f *DeviceCodeFlow) requestAuthorization(ctx context.Context, cfg DeviceCodeConfig) (*DeviceAuthorizationResponse, error) {
	form := url.Values{"client_id": {cfg.ClientID}}
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}
	if cfg.Scope != "" {
		form.Set("scope", cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.DeviceAuthorizationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("device authorization request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out DeviceAuthorizationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse device authorization response: %w", err)
	}
	return &out, nil
}

type tokenPollError struct {
	Error string `json:"error"`
}

type tokenPollSuccess struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    *int   `json:"expires_in,omitempty"`
}

func (f *DeviceCodeFlow) poll(ctx context.Context, cfg DeviceCodeConfig, auth DeviceAuthorizationResponse) (*StoredToken, error) {
	intervalMs := cfg.pollInterval()
	if auth.Interval > 0 {
		intervalMs = time.Duration(auth.Interval) * time.Second
	}

	timeout := cfg.timeout()
	if auth.ExpiresIn > 0 && time.Duration(auth.ExpiresIn)*time.Second < timeout {
		timeout = time.Duration(auth.ExpiresIn) * time.Second
	}
	deadline := f.now().Add(timeout)

	for {
		if !f.now().Before(deadline) {
			return nil, &DeviceCodeAuthError{Kind: DeviceCodeTimeout, Message: "device code authorization timed out"}
		}

		if err := backoff.Sleep(ctx, intervalMs); err != nil {
			return nil, &DeviceCodeAuthError{Kind: DeviceCodeNetwork, Message: "cancelled while polling", Cause: err}
		}
		if !f.now().Before(deadline) {
			return nil, &DeviceCodeAuthError{Kind: DeviceCodeTimeout, Message: "device code authorization timed out"}
		}

		token, done, growBy, err := f.pollOnce(ctx, cfg, auth.DeviceCode)
		if err != nil {
			if authErr, ok := err.(*DeviceCodeAuthError); ok {
				return nil, authErr
			}
			if f.logger != nil {
				f.logger.Warn(ctx, "device code poll failed, continuing", "error", err)
			}
			continue
		}
		if growBy > 0 {
			intervalMs += growBy
			continue
		}
		if done {
			return token, nil
		}
		// authorization_pending: loop back around.
	}
}

// pollOnce issues one token-poll request. It returns:
//   - (token, true, 0, nil) on success
//   - (nil, false, growBy, nil) on slow_down, with growBy the interval increment
//   - (nil, false, 0, nil) on authorization_pending (or a transient/unknown body)
//   - (nil, false, 0, *DeviceCodeAuthError) on a terminal server response
//   - (nil, false, 0, err) on a network/parse failure, which the caller logs and retries
func (f *DeviceCodeFlow) pollOnce(ctx context.Context, cfg DeviceCodeConfig, deviceCode string) (*StoredToken, bool, time.Duration, error) {
	form := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
		"client_id":   {cfg.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, false, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, 0, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var success tokenPollSuccess
		if err := json.Unmarshal(body, &success); err != nil {
			return nil, false, 0, fmt.Errorf("parse token poll response: %w", err)
		}
		if success.AccessToken != "" {
			tok := tokenFromOAuth2(&oauth2.Token{
				AccessToken:  success.AccessToken,
				TokenType:    success.TokenType,
				RefreshToken: success.RefreshToken,
			}, f.now())
			tok.AuthType = AuthTypeDeviceCode
			tok.Scope = success.Scope
			if success.ExpiresIn != nil {
				expiresAt := f.now().Add(time.Duration(*success.ExpiresIn) * time.Second)
				tok.ExpiresAt = &expiresAt
			}
			if tok.TokenType == "" {
				tok.TokenType = "Bearer"
			}
			return tok, true, 0, nil
		}
		// A 2xx body without an access_token falls through to the
		// error-body inspection below.
	}

	var pollErr tokenPollError
	_ = json.Unmarshal(body, &pollErr)
	switch pollErr.Error {
	case "authorization_pending", "":
		return nil, false, 0, nil
	case "slow_down":
		return nil, false, 5 * time.Second, nil
	case "expired_token":
		return nil, false, 0, &DeviceCodeAuthError{Kind: DeviceCodeExpired, Message: "device code expired"}
	case "access_denied":
		return nil, false, 0, &DeviceCodeAuthError{Kind: DeviceCodeDenied, Message: "user denied authorization"}
	default:
		if cfg.TreatUnknownAsTerminal {
			return nil, false, 0, &DeviceCodeAuthError{Kind: DeviceCodeNetwork, Message: "unrecognized token poll error: " + pollErr.Error}
		}
		return nil, false, 0, nil
	}
}

// tokenFromOAuth2 adapts an oauth2.Token into the StoredToken shape,
// stamping ObtainedAt since oauth2.Token itself carries an absolute expiry
// rather than the store's relative bookkeeping.
func tokenFromOAuth2(t *oauth2.Token, obtainedAt time.Time) *StoredToken {
	return &StoredToken{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		ObtainedAt:   obtainedAt,
		RefreshToken: t.RefreshToken,
	}
}
