// Package sweep periodically re-verifies every stored chain so tampering is
// noticed without waiting for someone to ask for an export.
package sweep

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/chain"
)

// Config holds sweep configuration.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// ChainVerifier lists chains and verifies one. *chain.Ledger satisfies it.
type ChainVerifier interface {
	Chains(ctx context.Context) ([]chain.ChainHead, error)
	VerifyChain(ctx context.Context, chain string) error
}

// Failure is one chain that did not verify.
type Failure struct {
	Chain string `json:"chain"`
	Error string `json:"error"`
	// Integrity is false when verification could not run (store errors).
	Integrity bool `json:"integrity"`
}

// Report summarises one sweep.
type Report struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Checked   int           `json:"checked"`
	Failures  []Failure     `json:"failures"`
}

// OK reports whether every chain verified.
func (r *Report) OK() bool { return len(r.Failures) == 0 }

// AlertFunc is an optional callback fired when a chain first fails
// verification. It is not fired again until the chain has recovered.
type AlertFunc func(ctx context.Context, f Failure)

// MetricsRecordFunc is an optional callback for recording sweep results.
type MetricsRecordFunc func(valid bool, d time.Duration)

// Sweeper runs periodic chain verification.
type Sweeper struct {
	verifier  ChainVerifier
	cfg       Config
	logger    *zap.Logger
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc

	mu      sync.Mutex
	broken  map[string]bool
	last    *Report
	stop    chan struct{}
	stopped sync.Once
}

// New creates a Sweeper.
func New(verifier ChainVerifier, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		broken:   make(map[string]bool),
		stop:     make(chan struct{}),
	}
}

// SetAlert configures the failure callback.
func (s *Sweeper) SetAlert(fn AlertFunc) { s.onAlert = fn }

// SetMetricsRecord configures the metrics recording callback.
func (s *Sweeper) SetMetricsRecord(fn MetricsRecordFunc) { s.onMetrics = fn }

// Run sweeps every Interval until ctx is cancelled or Stop is called.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
			s.SweepAll(sctx)
			cancel()
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopped.Do(func() { close(s.stop) })
}

// Last returns the most recent report, or nil before the first sweep.
func (s *Sweeper) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// SweepAll verifies every chain with bounded concurrency.
func (s *Sweeper) SweepAll(ctx context.Context) *Report {
	report := &Report{StartedAt: time.Now().UTC(), Failures: []Failure{}}

	heads, err := s.verifier.Chains(ctx)
	if err != nil {
		s.logger.Error("sweep: list chains", zap.Error(err))
		report.Failures = append(report.Failures, Failure{Error: err.Error()})
		s.finish(report)
		return report
	}

	sem := make(chan struct{}, s.cfg.Concurrency)
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for _, h := range heads {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := s.verifier.VerifyChain(ctx, name)

			rmu.Lock()
			report.Checked++
			if err != nil {
				report.Failures = append(report.Failures, Failure{
					Chain:     name,
					Error:     err.Error(),
					Integrity: errors.Is(err, chain.ErrChainIntegrity),
				})
			}
			rmu.Unlock()

			s.transition(ctx, name, err)
		}(h.Chain)
	}
	wg.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Chain < report.Failures[j].Chain
	})
	s.finish(report)
	return report
}

// transition tracks integrity state per chain. Only an integrity failure
// arms or fires the alert; a store error leaves the state untouched.
func (s *Sweeper) transition(ctx context.Context, name string, err error) {
	integrity := errors.Is(err, chain.ErrChainIntegrity)
	if err != nil && !integrity {
		s.logger.Warn("sweep: chain could not be verified",
			zap.String("chain", name),
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	wasBroken := s.broken[name]
	if integrity {
		s.broken[name] = true
	} else {
		delete(s.broken, name)
	}
	s.mu.Unlock()

	switch {
	case !integrity && wasBroken:
		s.logger.Info("sweep: chain verifies again", zap.String("chain", name))
	case integrity && !wasBroken:
		s.logger.Warn("sweep: chain failed verification",
			zap.String("chain", name),
			zap.Error(err),
		)
		if s.onAlert != nil {
			s.onAlert(ctx, Failure{Chain: name, Error: err.Error(), Integrity: true})
		}
	}
}

func (s *Sweeper) finish(r *Report) {
	r.Duration = time.Since(r.StartedAt)
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()

	if s.onMetrics != nil {
		s.onMetrics(r.OK(), r.Duration)
	}
	s.logger.Info("sweep: complete",
		zap.Int("checked", r.Checked),
		zap.Int("failures", len(r.Failures)),
		zap.Duration("duration", r.Duration),
	)
}
