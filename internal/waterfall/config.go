package waterfall

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospect-engine/internal/provider"
)

// ProviderConfig is one entry of the provider registry file.
type ProviderConfig struct {
	provider.Registration `yaml:",inline"`
	REST                  *provider.RESTConfig `yaml:"rest,omitempty"`
	Disabled              bool                 `yaml:"disabled"`
}

// Config is the provider registry file.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadConfig reads the provider registry from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a provider registry document. The providers live under
// a top-level "waterfall" key.
func ParseConfig(data []byte) (*Config, error) {
	var wrapper struct {
		Waterfall Config `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}
	cfg := &wrapper.Waterfall
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if err := p.Validate(); err != nil {
			return nil, eris.Wrap(err, "waterfall: invalid provider")
		}
		if seen[p.Name] {
			return nil, eris.Errorf("waterfall: provider %s listed twice", p.Name)
		}
		seen[p.Name] = true
		if p.REST != nil && p.REST.BaseURL == "" {
			return nil, eris.Errorf("waterfall: provider %s: rest.base_url is required", p.Name)
		}
	}
	return cfg, nil
}

// BuildRegistry registers every enabled provider. Providers with a rest block
// get a RESTAdapter; the rest must be supplied in adapters, keyed by name.
// Providers with neither are skipped with a warning. lookupEnv resolves API
// key variables; nil means os.Getenv.
func BuildRegistry(cfg *Config, adapters map[string]provider.Adapter, lookupEnv func(string) string) (*provider.Registry, error) {
	if lookupEnv == nil {
		lookupEnv = os.Getenv
	}
	reg := provider.NewRegistry()
	for _, p := range cfg.Providers {
		if p.Disabled {
			continue
		}
		a := adapters[p.Name]
		if a == nil && p.REST != nil {
			var opts []provider.RESTOption
			if p.REST.APIKeyEnv != "" {
				opts = append(opts, provider.WithAPIKey(lookupEnv(p.REST.APIKeyEnv)))
			}
			a = provider.NewRESTAdapter(p.Name, *p.REST, opts...)
		}
		if a == nil {
			zap.L().Warn("waterfall: provider has no adapter, skipping", zap.String("provider", p.Name))
			continue
		}
		if err := reg.Register(p.Registration, a); err != nil {
			return nil, eris.Wrap(err, "waterfall: build registry")
		}
	}
	return reg, nil
}
