package decorator

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"itemstore/store"
)

// ChainConfig selects which decorators Chain applies and with what settings.
type ChainConfig struct {
	EnableRetries bool
	Retry         RetryConfig

	EnableBreaker bool
	Breaker       BreakerConfig

	EnableLogging bool

	// Metrics collectors register on Registry when set.
	Registry prometheus.Registerer
}

// DefaultChainConfig enables retries and the breaker with default settings.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		EnableRetries: true,
		Retry:         DefaultRetryConfig(),
		EnableBreaker: true,
		Breaker:       DefaultBreakerConfig(),
		EnableLogging: true,
	}
}

// Chain composes the configured decorators around base.
// Order: base, retry, breaker, metrics, logging. Retry sits closest to the
// backend so the breaker counts exhausted sequences, not individual attempts.
func Chain(base store.Store, config ChainConfig, logger *zap.Logger) store.Store {
	decorated := base
	if config.EnableRetries {
		decorated = NewRetryStore(decorated, config.Retry)
	}
	if config.EnableBreaker {
		decorated = NewBreakerStore(decorated, config.Breaker, logger)
	}
	if config.Registry != nil {
		decorated = NewMetricsStore(decorated, config.Registry)
	}
	if config.EnableLogging {
		decorated = NewLoggingStore(decorated, logger)
	}
	return decorated
}
