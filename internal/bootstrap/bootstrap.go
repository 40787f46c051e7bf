// Package bootstrap turns a Config into a wired store, sink and ledger.
// Both binaries build their components through it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/attest"
	"github.com/jmerrifield20/auditchain/internal/audit"
	"github.com/jmerrifield20/auditchain/internal/chain"
	"github.com/jmerrifield20/auditchain/internal/config"
	"github.com/jmerrifield20/auditchain/internal/correlation"
	"github.com/jmerrifield20/auditchain/internal/diffhash"
	"github.com/jmerrifield20/auditchain/internal/metrics"
)

// Components is everything a binary needs, built from one Config.
type Components struct {
	Store   chain.Store
	Sink    audit.Sink
	Querier audit.Querier // nil when the sink cannot be read back
	Emitter *audit.Emitter
	Ledger  *chain.Ledger
	Signer  *attest.Signer // nil when attestation is disabled
	Retry   chain.RetryConfig

	closers []func() error
}

// Close releases connections in reverse order of opening.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Components) onClose(fn func() error) { c.closers = append(c.closers, fn) }

// Build opens the configured store and sink and wires the emitter and ledger
// with metrics callbacks. On error everything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	if err := c.build(ctx, cfg, logger); err != nil {
		c.Close() //nolint:errcheck
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var pool *pgxpool.Pool
	if cfg.Store.Driver == config.DriverPostgres || cfg.Sink.Kind == config.SinkPostgres {
		p, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		c.onClose(func() error { p.Close(); return nil })
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		pool = p
	}

	store, err := c.openStore(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	c.Store = store

	if err := c.openSink(ctx, cfg, pool, logger); err != nil {
		return err
	}

	alg := cfg.Algorithm()
	c.Emitter = audit.NewEmitter(c.Sink, logger)
	c.Emitter.SetHasher(diffhash.New(alg))
	c.Emitter.SetClock(correlation.NewClock(correlation.DefaultClockSize, nil))
	c.Emitter.SetMetricsRecorder(metrics.RecordEmission)

	c.Ledger = chain.NewLedger(c.Store, c.Emitter, logger)
	c.Ledger.SetAlgorithm(alg)
	c.Ledger.SetAmendPolicy(chain.AmendPolicy{EditWindow: cfg.Ledger.EditWindow})
	c.Ledger.SetMetricsRecorder(metrics.RecordLedger)

	if cfg.Attest.Secret != "" {
		s, err := attest.NewSigner([]byte(cfg.Attest.Secret), cfg.Attest.Issuer)
		if err != nil {
			return err
		}
		c.Signer = s
		c.Ledger.SetAttestor(s)
	}

	c.Retry = chain.DefaultRetryConfig()
	c.Retry.MaxAttempts = cfg.Ledger.AppendAttempts

	logger.Info("components ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("sink", cfg.Sink.Kind),
		zap.String("algorithm", string(alg)),
		zap.Bool("attestation", c.Signer != nil),
	)
	return nil
}

func (c *Components) openStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (chain.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return chain.NewPostgresStore(pool, logger), nil
	case config.DriverSQLite:
		if err := ensureDir(cfg.Store.SQLitePath); err != nil {
			return nil, err
		}
		s, err := chain.OpenSQLite(ctx, cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		c.onClose(s.Close)
		return s, nil
	case config.DriverMemory:
		logger.Warn("using in-memory chain store; records are lost on exit")
		return chain.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func (c *Components) openSink(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) error {
	switch cfg.Sink.Kind {
	case config.SinkMemory:
		m := audit.NewMemorySink()
		c.Sink, c.Querier = m, m

	case config.SinkPostgres:
		p := audit.NewPostgresSink(pool, logger)
		c.Sink, c.Querier = p, p

	case config.SinkJSONL:
		if err := ensureDir(cfg.Sink.JSONLPath); err != nil {
			return err
		}
		f, err := audit.OpenFileSink(cfg.Sink.JSONLPath)
		if err != nil {
			return err
		}
		c.onClose(f.Close)
		c.Sink = f

	case config.SinkRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Sink.RedisAddr})
		c.onClose(rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis %s: %w", cfg.Sink.RedisAddr, err)
		}
		c.Sink = audit.NewRedisStreamSink(rdb, cfg.Sink.RedisStream)

	case config.SinkNATS:
		nc, err := nats.Connect(cfg.Sink.NATSURL, nats.Name("auditchain"))
		if err != nil {
			return fmt.Errorf("connect to nats %s: %w", cfg.Sink.NATSURL, err)
		}
		c.onClose(func() error { return nc.Drain() })
		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("open jetstream: %w", err)
		}
		c.Sink = audit.NewNATSSink(js, cfg.Sink.NATSSubject)

	case config.SinkKafka:
		k := audit.NewKafkaSink(cfg.Sink.KafkaBrokers, cfg.Sink.KafkaTopic)
		c.onClose(k.Close)
		c.Sink = k

	default:
		return fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
	return nil
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	return nil
}
