// internal/integrity/engine.go
package integrity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"readhub/internal/observability"
)

// Check is one consistency rule over the stored library data.
type Check struct {
	Name       string
	Hypothesis string
	Metrics    []Metric
	// ReportOnly checks are recorded but never fail a run.
	ReportOnly bool
}

// Metric is a measurable property of the data.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Result captures one check run.
type Result struct {
	Check          string             `json:"check"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time"`
	Duration       time.Duration      `json:"duration"`
	HypothesisHeld bool               `json:"hypothesis_held"`
	ReportOnly     bool               `json:"report_only"`
	Observations   map[string]float64 `json:"observations"`
	Violations     []Violation        `json:"violations"`
	ErrorEvents    []ErrorEvent       `json:"error_events"`
}

// Failed reports whether the result should fail the run.
func (r *Result) Failed() bool {
	return !r.ReportOnly && !r.HypothesisHeld
}

type Violation struct {
	Metric    string    `json:"metric"`
	Operator  string    `json:"operator"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Error     string    `json:"error"`
}

// Engine runs registered checks and keeps their results.
type Engine struct {
	tracer  trace.Tracer
	checks  []Check
	results []*Result
	now     func() time.Time
	mu      sync.Mutex
}

func NewEngine() *Engine {
	return &Engine{
		tracer: otel.Tracer("readhub/integrity"),
		now:    time.Now,
	}
}

// Register adds checks to the suite.
func (e *Engine) Register(checks ...Check) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks = append(e.checks, checks...)
}

// Checks returns the registered checks.
func (e *Engine) Checks() []Check {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Check(nil), e.checks...)
}

// Results returns every result recorded so far.
func (e *Engine) Results() []*Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Result(nil), e.results...)
}

// Run evaluates every metric of a check against its threshold. A metric
// whose query fails counts as a violation.
func (e *Engine) Run(ctx context.Context, c Check) *Result {
	ctx, span := e.tracer.Start(ctx, "integrity.run_check",
		trace.WithAttributes(
			attribute.String("check.name", c.Name),
			attribute.Bool("check.report_only", c.ReportOnly),
		),
	)
	defer span.End()

	result := &Result{
		Check:        c.Name,
		StartTime:    e.now(),
		ReportOnly:   c.ReportOnly,
		Observations: make(map[string]float64, len(c.Metrics)),
		Violations:   make([]Violation, 0),
		ErrorEvents:  make([]ErrorEvent, 0),
	}

	for _, m := range c.Metrics {
		value, err := m.Query(ctx)
		if err != nil {
			span.RecordError(err)
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: e.now(),
				Metric:    m.Name,
				Error:     err.Error(),
			})
			continue
		}
		result.Observations[m.Name] = value
		span.SetAttributes(attribute.Float64("metric."+m.Name, value))

		if !evaluateThreshold(value, m.Threshold) {
			result.Violations = append(result.Violations, Violation{
				Metric:    m.Name,
				Operator:  m.Threshold.Operator,
				Expected:  m.Threshold.Value,
				Actual:    value,
				Timestamp: e.now(),
			})
		}
	}

	result.HypothesisHeld = len(result.Violations) == 0 && len(result.ErrorEvents) == 0
	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if result.Failed() {
		span.SetStatus(codes.Error, "hypothesis rejected")
	}

	e.mu.Lock()
	e.results = append(e.results, result)
	e.mu.Unlock()
	return result
}

// RunAll runs every registered check in order and reports whether all
// failing checks held. Each result is logged as it completes.
func (e *Engine) RunAll(ctx context.Context) ([]*Result, bool) {
	log := observability.LoggerFromContext(ctx)
	ok := true
	var results []*Result
	for _, c := range e.Checks() {
		if ctx.Err() != nil {
			return results, false
		}
		r := e.Run(ctx, c)
		results = append(results, r)

		ev := log.Info()
		if r.Failed() {
			ev = log.Error()
			ok = false
		} else if !r.HypothesisHeld {
			ev = log.Warn()
		}
		ev.Str("check", c.Name).
			Str("hypothesis", c.Hypothesis).
			Bool("held", r.HypothesisHeld).
			Interface("result", r).
			Msg("integrity check finished")
	}
	return results, ok
}

func evaluateThreshold(value float64, t Threshold) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Summary is a one-line tally of a run.
func Summary(results []*Result) string {
	var held, failed, reported int
	for _, r := range results {
		switch {
		case r.HypothesisHeld:
			held++
		case r.Failed():
			failed++
		default:
			reported++
		}
	}
	return fmt.Sprintf("%d held, %d failed, %d reported", held, failed, reported)
}
