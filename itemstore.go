// Package itemstore assembles the library from its parts: it loads the
// configuration, builds the selected store adapter and wraps it in the
// resilience decorator chain. Applications that want to wire the pieces
// themselves can use the subpackages directly.
package itemstore

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"itemstore/config"
	"itemstore/pkg/errors"
	"itemstore/store"
	"itemstore/store/decorator"
	"itemstore/store/dynamo"
	"itemstore/store/memory"
	"itemstore/store/sqlite"
)

// NewLogger builds a zap logger from the logging configuration. Production
// uses JSON encoding, development console encoding.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "unknown log level %q", cfg.Level)
		}
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "build logger")
	}
	return logger, nil
}

// Open builds the configured backend adapter and wraps it in the decorator
// chain. The returned closer releases backend resources; for backends
// without any it is a no-op.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, io.Closer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, closer, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return decorator.Chain(base, chainConfig(cfg.Resilience), logger), closer, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(memory.WithLogger(logger)), nopCloser{}, nil

	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLite.Path,
			sqlite.WithLogger(logger),
			sqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case config.BackendDynamo:
		client, err := newDynamoClient(ctx, cfg.Dynamo)
		if err != nil {
			return nil, nil, err
		}
		s, err := dynamo.New(client, dynamo.Config{TableName: cfg.Dynamo.TableName}, dynamo.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil

	default:
		return nil, nil, errors.Newf(errors.KindValidation, "unknown backend %q", cfg.Backend)
	}
}

func newDynamoClient(ctx context.Context, cfg config.DynamoConfig) (*dynamodb.Client, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindServiceUnavailable, "load AWS config")
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func chainConfig(res config.Resilience) decorator.ChainConfig {
	chain := decorator.DefaultChainConfig()
	chain.EnableRetries = res.EnableRetries
	if res.MaxRetries > 0 {
		chain.Retry.MaxRetries = res.MaxRetries
	}
	if res.RetryInterval > 0 {
		chain.Retry.InitialInterval = res.RetryInterval
	}
	chain.EnableBreaker = res.EnableBreaker
	if res.BreakerTimeout > 0 {
		chain.Breaker.Timeout = res.BreakerTimeout
	}
	if res.ConsecutiveFailures > 0 {
		chain.Breaker.ConsecutiveFailures = res.ConsecutiveFailures
	}
	if res.EnableMetrics {
		chain.Registry = prometheus.DefaultRegisterer
	}
	return chain
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
