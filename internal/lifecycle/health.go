package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Proton-105/vidbot/internal/health"
)

// ErrDraining is reported by Readiness once shutdown has begun.
var ErrDraining = errors.New("shutting down")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes answers liveness from the process itself and readiness from its dependencies.
type Probes struct {
	checker  *health.Checker
	log      *slog.Logger
	draining atomic.Bool
}

// NewProbes creates a new Probes instance backed by checker.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{checker: checker, log: log}
}

// Liveness succeeds while the process can serve requests at all.
func (p *Probes) Liveness(context.Context) error {
	return nil
}

// Readiness fails while draining or when a dependency check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	if p.draining.Load() {
		return ErrDraining
	}
	if p.checker == nil {
		return nil
	}

	report := p.checker.Check(ctx)
	if report.Healthy {
		return nil
	}
	return fmt.Errorf("unhealthy: %s", strings.Join(report.Failed(), ", "))
}

// Report runs the dependency checks for diagnostics.
func (p *Probes) Report(ctx context.Context) health.Report {
	if p.checker == nil {
		return health.Report{Healthy: true, Checks: map[string]string{}}
	}
	return p.checker.Check(ctx)
}

// Drain marks the instance not ready so load balancers stop routing to it.
func (p *Probes) Drain() {
	if !p.draining.Swap(true) {
		p.log.Info("readiness probe switched to draining")
	}
}
