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
	"golang.org/x/oauth2/clientcredentials"

	"github.com/agentmesh/core/internal/backoff"
	"github.com/agentmesh/core/internal/observability"
)

// clientCredentialsRetryDelay is the fixed pause between the first failed
// client-credentials token fetch and its one retry.
const clientCredentialsRetryDelay = 2 * time.Second

// AuthConfig is a tagged union: exactly one of ClientCredential or
// DeviceCode should be populated, selected by Type.
type AuthConfig struct {
	Type             AuthType
	ClientCredential *ClientCredentialConfig
	DeviceCode       *DeviceCodeConfig
}

// ClientCredentialConfig is the client_credentials branch of AuthConfig.
type ClientCredentialConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL is optional: when empty, the SDK's own client-credentials
	// provider handles the exchange (the "authProvider" route).
	TokenURL string
	Scope    string
}

// TransportAuthMode is the variant tag of TransportAuthOptions.
type TransportAuthMode string

const (
	ModeNone         TransportAuthMode = "none"
	ModeAuthProvider TransportAuthMode = "authProvider"
	ModeRequestInit  TransportAuthMode = "requestInit"
)

// AuthProvider is the SDK-level delegate used for the client_credentials
// route that has no tokenUrl of its own. The real MCP SDK transport this
// integrates against is out of scope; this is the narrow seam it plugs
// into.
type AuthProvider interface {
	// Seed primes the provider with an already-valid cached token so it
	// can skip its own first exchange.
	Seed(token *StoredToken)
	// WrapSave registers a callback the provider invokes every time it
	// obtains or refreshes a token, so the caller can persist it.
	WrapSave(onSave func(*StoredToken))
}

// TransportAuthOptions is what ResolveTransportAuth hands back to the
// caller wiring up an MCP transport.
type TransportAuthOptions struct {
	Mode         TransportAuthMode
	AuthProvider AuthProvider
	Headers      map[string]string
}

func requestInitOptions(token *StoredToken) TransportAuthOptions {
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return TransportAuthOptions{
		Mode:    ModeRequestInit,
		Headers: map[string]string{"Authorization": tokenType + " " + token.AccessToken},
	}
}

// ProviderFactory routes an AuthConfig to the right acquisition path and
// hands back ready-to-use transport auth options.
type ProviderFactory struct {
	Store      *TokenStore
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *observability.Logger
	DeviceFlow *DeviceCodeFlow
	Prompter   Prompter
}

func (f *ProviderFactory) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func (f *ProviderFactory) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *ProviderFactory) deviceFlow() *DeviceCodeFlow {
	if f.DeviceFlow != nil {
		return f.DeviceFlow
	}
	return NewDeviceCodeFlow(WithDeviceCodeHTTPClient(f.httpClient()), WithDeviceCodeClock(f.now), WithDeviceCodeLogger(f.Logger))
}

// ResolveTransportAuth routes serverName's auth config to its acquisition
// path and returns ready-to-use transport options: no config means no
// auth, client_credentials goes through the SDK provider or a direct
// token-endpoint exchange, and device_code tries the cache, then a
// refresh, then the full authorization flow.
func (f *ProviderFactory) ResolveTransportAuth(ctx context.Context, serverName string, cfg *AuthConfig, provider AuthProvider) (TransportAuthOptions, error) {
	if cfg == nil {
		return TransportAuthOptions{Mode: ModeNone}, nil
	}

	switch cfg.Type {
	case AuthTypeClientCredentials:
		return f.resolveClientCredentials(ctx, serverName, cfg.ClientCredential, provider)
	case AuthTypeDeviceCode:
		return f.resolveDeviceCode(ctx, serverName, cfg.DeviceCode)
	default:
		return TransportAuthOptions{}, fmt.Errorf("mcpauth: unknown auth type %q", cfg.Type)
	}
}

func (f *ProviderFactory) resolveClientCredentials(ctx context.Context, serverName string, cfg *ClientCredentialConfig, provider AuthProvider) (TransportAuthOptions, error) {
	if cfg == nil {
		return TransportAuthOptions{}, fmt.Errorf("mcpauth: client_credentials config is required")
	}

	if cfg.TokenURL == "" {
		if provider == nil {
			return TransportAuthOptions{}, fmt.Errorf("mcpauth: client_credentials without tokenUrl requires an SDK auth provider")
		}
		if cached, ok := f.Store.Load(serverName); ok && IsValid(cached, f.now()) {
			provider.Seed(cached)
		}
		provider.WrapSave(func(tok *StoredToken) {
			if tok == nil {
				return
			}
			tok.AuthType = AuthTypeClientCredentials
			if err := f.Store.Save(serverName, tok); err != nil && f.Logger != nil {
				f.Logger.Warn(ctx, "mcpauth: persist client_credentials token failed", "server", serverName, "error", err)
			}
		})
		return TransportAuthOptions{Mode: ModeAuthProvider, AuthProvider: provider}, nil
	}

	if cached, ok := f.Store.Load(serverName); ok && IsValid(cached, f.now()) {
		return requestInitOptions(cached), nil
	}

	token, err := f.fetchClientCredentialsToken(ctx, cfg)
	if err != nil {
		return TransportAuthOptions{}, err
	}
	if err := f.Store.Save(serverName, token); err != nil && f.Logger != nil {
		f.Logger.Warn(ctx, "mcpauth: persist client_credentials token failed", "server", serverName, "error", err)
	}
	return requestInitOptions(token), nil
}

// fetchClientCredentialsToken exchanges cfg for a token via
// golang.org/x/oauth2/clientcredentials, retrying exactly once after a
// fixed 2s pause on failure.
func (f *ProviderFactory) fetchClientCredentialsToken(ctx context.Context, cfg *ClientCredentialConfig) (*StoredToken, error) {
	exchange := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	if cfg.Scope != "" {
		exchange.Scopes = []string{cfg.Scope}
	}
	exchange.AuthStyle = oauth2.AuthStyleInParams
	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, f.httpClient())

	oauthToken, err := backoff.Retry(ctx, backoff.Fixed(clientCredentialsRetryDelay), 2, func(context.Context) (*oauth2.Token, error) {
		return exchange.Token(httpCtx)
	})
	if err != nil {
		return nil, fmt.Errorf("mcpauth: client_credentials fetch failed after retry: %w", err)
	}

	token := tokenFromOAuth2(oauthToken, f.now())
	token.AuthType = AuthTypeClientCredentials
	token.Scope = cfg.Scope
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if !oauthToken.Expiry.IsZero() {
		expiry := oauthToken.Expiry
		token.ExpiresAt = &expiry
	}
	return token, nil
}

func (f *ProviderFactory) resolveDeviceCode(ctx context.Context, serverName string, cfg *DeviceCodeConfig) (TransportAuthOptions, error) {
	if cfg == nil {
		return TransportAuthOptions{}, fmt.Errorf("mcpauth: device_code config is required")
	}

	if cached, ok := f.Store.Load(serverName); ok {
		if IsValid(cached, f.now()) {
			return requestInitOptions(cached), nil
		}
		if cached.RefreshToken != "" {
			refreshed, err := f.RefreshToken(ctx, serverName, AuthConfig{Type: AuthTypeDeviceCode, DeviceCode: cfg}, cached.RefreshToken)
			if err == nil {
				if saveErr := f.Store.Save(serverName, refreshed); saveErr != nil && f.Logger != nil {
					f.Logger.Warn(ctx, "mcpauth: persist refreshed token failed", "server", serverName, "error", saveErr)
				}
				return requestInitOptions(refreshed), nil
			}
			if f.Logger != nil {
				f.Logger.Warn(ctx, "mcpauth: refresh failed, falling back to full device code flow", "server", serverName, "error", err)
			}
		}
	}

	token, err := f.deviceFlow().Authorize(ctx, serverName, *cfg, f.Prompter)
	if err != nil {
		return TransportAuthOptions{}, err
	}
	if err := f.Store.Save(serverName, token); err != nil && f.Logger != nil {
		f.Logger.Warn(ctx, "mcpauth: persist device code token failed", "server", serverName, "error", err)
	}
	return requestInitOptions(token), nil
}

// RefreshToken exchanges refreshValue for a new token via cfg's refresh
// grant. If the server's response omits a new refresh_token, the returned
// token keeps refreshValue so later refreshes still work.
func (f *ProviderFactory) RefreshToken(ctx context.Context, serverName string, cfg AuthConfig, refreshValue string) (*StoredToken, error) {
	var clientID, clientSecret, tokenURL string
	switch cfg.Type {
	case AuthTypeDeviceCode:
		if cfg.DeviceCode == nil {
			return nil, fmt.Errorf("mcpauth: refresh requires device code config")
		}
		clientID, clientSecret, tokenURL = cfg.DeviceCode.ClientID, cfg.DeviceCode.ClientSecret, cfg.DeviceCode.TokenURL
	case AuthTypeClientCredentials:
		if cfg.ClientCredential == nil {
			return nil, fmt.Errorf("mcpauth: refresh requires client credential config")
		}
		clientID, clientSecret, tokenURL = cfg.ClientCredential.ClientID, cfg.ClientCredential.ClientSecret, cfg.ClientCredential.TokenURL
	default:
		return nil, fmt.Errorf("mcpauth: unknown auth type %q", cfg.Type)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshValue},
		"client_id":     {clientID},
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mcpauth: refresh request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var success tokenPollSuccess
	if err := json.Unmarshal(body, &success); err != nil {
		return nil, fmt.Errorf("mcpauth: parse refresh response: %w", err)
	}
	if success.AccessToken == "" {
		return nil, fmt.Errorf("mcpauth: refresh response missing access_token")
	}

	token := &StoredToken{
		AccessToken:  success.AccessToken,
		TokenType:    success.TokenType,
		ObtainedAt:   f.now(),
		AuthType:     cfg.Type,
		RefreshToken: refreshValue,
		Scope:        success.Scope,
	}
	if success.RefreshToken != "" {
		token.RefreshToken = success.RefreshToken
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if success.ExpiresIn != nil {
		expiresAt := f.now().Add(time.Duration(*success.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}
	return token, nil
}
