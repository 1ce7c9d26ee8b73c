package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/resilience"
)

// RESTConfig describes a provider reachable over a JSON HTTP API that speaks
// the canonical envelope.
type RESTConfig struct {
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the key; the key
	// itself never lives in the registry file.
	APIKeyEnv    string                      `yaml:"api_key_env"`
	APIKeyHeader string                      `yaml:"api_key_header"`
	Paths        map[model.Capability]string `yaml:"paths"`
}

// RESTOption configures a RESTAdapter.
type RESTOption func(*RESTAdapter)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(a *RESTAdapter) {
		a.http = hc
	}
}

// WithAPIKey sets the key sent with every request.
func WithAPIKey(key string) RESTOption {
	return func(a *RESTAdapter) {
		a.apiKey = key
	}
}

// RESTAdapter posts canonical params to a per-capability path and decodes the
// canonical envelope.
type RESTAdapter struct {
	name   string
	cfg    RESTConfig
	apiKey string
	http   *http.Client
}

type restRequest struct {
	Capability model.Capability `json:"capability"`
	Params     Params           `json:"params"`
}

// NewRESTAdapter creates an adapter for the named provider.
func NewRESTAdapter(name string, cfg RESTConfig, opts ...RESTOption) *RESTAdapter {
	a := &RESTAdapter{
		name: name,
		cfg:  cfg,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *RESTAdapter) Name() string { return a.name }

// Call performs one capability. 429 and 5xx responses come back as transient
// errors so the breaker and retry layers can tell them apart.
func (a *RESTAdapter) Call(ctx context.Context, capability model.Capability, params Params) (*Envelope, error) {
	path, ok := a.cfg.Paths[capability]
	if !ok {
		return nil, eris.Errorf("%s: capability %s not mapped", a.name, capability)
	}

	body, err := json.Marshal(restRequest{Capability: capability, Params: params})
	if err != nil {
		return nil, eris.Wrapf(err, "%s: marshal request", a.name)
	}

	url := strings.TrimSuffix(a.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create request", a.name)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		header := a.cfg.APIKeyHeader
		if header == "" {
			req.Header.Set("Authorization", "Bearer "+a.apiKey)
		} else {
			req.Header.Set(header, a.apiKey)
		}
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: send request", a.name)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, eris.Wrapf(err, "%s: read response", a.name)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Envelope{Success: false, Error: "not found"}, nil
	case resp.StatusCode >= 300:
		return nil, resilience.StatusError(a.name, resp.StatusCode, string(respBody))
	}

	var env Envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, eris.Wrapf(err, "%s: unmarshal response", a.name)
	}
	return &env, nil
}
