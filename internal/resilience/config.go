package resilience

import "time"

// Settings is the configuration surface for retries and breakers.
type Settings struct {
	RetryAttempts    int     `mapstructure:"retry_attempts"`
	RetryBaseMs      int     `mapstructure:"retry_base_ms"`
	RetryCapMs       int     `mapstructure:"retry_cap_ms"`
	RetryFactor      float64 `mapstructure:"retry_factor"`
	RetryJitter      float64 `mapstructure:"retry_jitter"`
	BreakerThreshold int     `mapstructure:"breaker_threshold"`
	BreakerCooldownS int     `mapstructure:"breaker_cooldown_secs"`
}

// Retry builds a RetryPolicy, falling back to defaults for unset values.
func (s Settings) Retry() RetryPolicy {
	p := DefaultRetryPolicy()
	if s.RetryAttempts > 0 {
		p.Attempts = s.RetryAttempts
	}
	if s.RetryBaseMs > 0 {
		p.Base = time.Duration(s.RetryBaseMs) * time.Millisecond
	}
	if s.RetryCapMs > 0 {
		p.Cap = time.Duration(s.RetryCapMs) * time.Millisecond
	}
	if s.RetryFactor > 0 {
		p.Factor = s.RetryFactor
	}
	if s.RetryJitter > 0 {
		p.Jitter = s.RetryJitter
	}
	return p
}

// Breaker builds a BreakerConfig, falling back to defaults for unset values.
func (s Settings) Breaker() BreakerConfig {
	c := DefaultBreakerConfig()
	if s.BreakerThreshold > 0 {
		c.Threshold = s.BreakerThreshold
	}
	if s.BreakerCooldownS > 0 {
		c.Cooldown = time.Duration(s.BreakerCooldownS) * time.Second
	}
	return c
}
