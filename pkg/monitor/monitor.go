// Copyright 2025 ProvChain Authors
//
// Integrity monitor (C7, spec.md §4.7). Schedules C6 at a configured
// cadence, exposes an on-demand check, throttles repeated alerts at
// the same severity, and retains a bounded history of the last K
// reports. The ticker/stop-channel scheduling shape is grounded on
// pkg/anchor/scheduler.go's batchCheckLoop (kept structurally, rewired
// to run integrity scans instead of anchor batches); the
// *log.Logger-with-prefix idiom follows pkg/consensus/replica.go's
// NewReplica.

package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/provchain/provchain/pkg/chain"
	"github.com/provchain/provchain/pkg/integrity"
	"github.com/provchain/provchain/pkg/store"
)

var (
	lastRunStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "provchain",
			Subsystem: "integrity",
			Name:      "status",
			Help:      "Overall status of the most recent integrity report: 0 Healthy, 1 Warning, 2 Critical.",
		},
		[]string{"namespace"},
	)
	lastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "provchain",
			Subsystem: "integrity",
			Name:      "last_run_unix_seconds",
			Help:      "Unix timestamp of the most recent completed integrity report.",
		},
		[]string{"namespace"},
	)
	recommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provchain",
			Subsystem: "integrity",
			Name:      "recommendations_total",
			Help:      "Count of integrity recommendations emitted, by category and severity.",
		},
		[]string{"namespace", "category", "severity"},
	)
	autoRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provchain",
			Subsystem: "integrity",
			Name:      "auto_repairs_total",
			Help:      "Count of recommendations that were eligible for unattended auto-repair, by category.",
		},
		[]string{"namespace", "category"},
	)
)

func statusGaugeValue(s integrity.Status) float64 {
	switch s {
	case integrity.StatusWarning:
		return 1
	case integrity.StatusCritical:
		return 2
	default:
		return 0
	}
}

// Alerter receives one callback per non-Healthy report whose overall
// status differs from the previous report's or whose throttle window
// has elapsed, per spec.md §4.7's
// "throttles alerts". Implementations might page, post to a chat
// webhook, or (in tests) simply record the call.
type Alerter interface {
	Alert(report *integrity.Report)
}

// AlerterFunc adapts a plain function to Alerter.
type AlerterFunc func(report *integrity.Report)

func (f AlerterFunc) Alert(report *integrity.Report) { f(report) }

// Monitor runs C6 on a schedule and on demand, and keeps a bounded
// ring of recent reports.
type Monitor struct {
	namespace   string
	c           *chain.Chain
	verifier    chain.Verifier
	s           store.Store
	interval    time.Duration
	historySize int
	// autoRepairClasses names the recommendation categories this
	// installation has opted into unattended repair for, per spec.md
	// §4.7 ("No repair is executed without explicit consent unless
	// the installation has enabled an auto_repair flag for the
	// specific recommendation class").
	autoRepairClasses map[string]bool
	alertThrottle     time.Duration
	alerter           Alerter
	logger            *log.Logger

	mu           sync.RWMutex
	history      []*integrity.Report
	lastAlertAt  time.Time
	lastSeverity integrity.Status

	onDemand chan chan *integrity.Report
	stop     chan struct{}
	running  bool
}

// Option customizes a Monitor at construction time.
type Option func(*Monitor)

// WithAlerter installs an Alerter invoked after each scheduled or
// on-demand check whose result warrants notification.
func WithAlerter(a Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

// WithAlertThrottle overrides the default 15-minute minimum gap
// between repeated alerts at an unchanged severity.
func WithAlertThrottle(d time.Duration) Option {
	return func(m *Monitor) { m.alertThrottle = d }
}

// New builds a Monitor for chain c backed by store s. autoRepairClasses
// lists the recommendation categories (e.g. "transaction_count") this
// installation has opted into; the monitor counts and logs auto-fixable
// findings in those categories and never applies a repair itself.
func New(namespace string, c *chain.Chain, verifier chain.Verifier, s store.Store, interval time.Duration, historySize int, autoRepairClasses []string, opts ...Option) *Monitor {
	classes := make(map[string]bool, len(autoRepairClasses))
	for _, cl := range autoRepairClasses {
		classes[cl] = true
	}
	m := &Monitor{
		namespace:         namespace,
		c:                 c,
		verifier:          verifier,
		s:                 s,
		interval:          interval,
		historySize:       historySize,
		autoRepairClasses: classes,
		alertThrottle:     15 * time.Minute,
		logger:            log.New(os.Stdout, fmt.Sprintf("[integrity-monitor %s] ", namespace), log.LstdFlags|log.Lmicroseconds),
		onDemand:          make(chan chan *integrity.Report),
		stop:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks, ticking every m.interval and servicing on-demand check
// requests, until ctx is cancelled or Stop is called. Intended to run
// as the dedicated "monitor task" spec.md §5's concurrency model
// assigns to C7.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return
		case <-m.stop:
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.runCheck()
		case reply := <-m.onDemand:
			reply <- m.runCheck()
		}
	}
}

// Stop ends a running Run loop.
func (m *Monitor) Stop() {
	close(m.stop)
}

// CheckNow runs C6 immediately, outside the ticker cadence, and
// returns the resulting report. Safe to call whether or not Run is
// active; when Run is active the request is serialized through its
// loop so two checks never race against the chain.
func (m *Monitor) CheckNow() *integrity.Report {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()

	if !running {
		return m.runCheck()
	}

	reply := make(chan *integrity.Report, 1)
	m.onDemand <- reply
	return <-reply
}

// runCheck executes one C6 pass, records it into history, updates
// metrics, and alerts if warranted.
func (m *Monitor) runCheck() *integrity.Report {
	report, err := integrity.Run(m.c, m.verifier, m.s, time.Now())
	if err != nil {
		m.logger.Printf("integrity check failed: %v", err)
		return nil
	}

	m.recordMetrics(report)
	m.recordHistory(report)
	m.maybeAlert(report)
	m.logAutoRepairEligibility(report)

	return report
}

func (m *Monitor) recordMetrics(report *integrity.Report) {
	lastRunStatus.WithLabelValues(m.namespace).Set(statusGaugeValue(report.OverallStatus))
	lastRunTimestamp.WithLabelValues(m.namespace).Set(float64(report.Timestamp.Unix()))
	for _, rec := range report.Recommendations {
		recommendationsTotal.WithLabelValues(m.namespace, rec.Category, string(rec.Severity)).Inc()
		if rec.AutoFixable && m.autoRepairClasses[rec.Category] {
			autoRepairsTotal.WithLabelValues(m.namespace, rec.Category).Inc()
		}
	}
}

func (m *Monitor) recordHistory(report *integrity.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, report)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
}

// History returns up to the last K reports, oldest first.
func (m *Monitor) History() []*integrity.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*integrity.Report, len(m.history))
	copy(out, m.history)
	return out
}

// maybeAlert fires m.alerter when the overall status is not Healthy
// and either the severity changed since the last alert or the
// throttle window has elapsed, per spec.md §4.7.
func (m *Monitor) maybeAlert(report *integrity.Report) {
	if m.alerter == nil || report.OverallStatus == integrity.StatusHealthy {
		m.mu.Lock()
		m.lastSeverity = report.OverallStatus
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	severityChanged := report.OverallStatus != m.lastSeverity
	throttled := !severityChanged && time.Since(m.lastAlertAt) < m.alertThrottle
	if !throttled {
		m.lastAlertAt = report.Timestamp
		m.lastSeverity = report.OverallStatus
	}
	m.mu.Unlock()

	if throttled {
		return
	}
	m.alerter.Alert(report)
}

// logAutoRepairEligibility surfaces (but never executes) repair
// actions whose category is in the installation's auto-repair
// allowlist, per spec.md §4.7 — actually running a repair action is
// left to an explicit operator-invoked apply step, never to the
// monitor loop itself.
func (m *Monitor) logAutoRepairEligibility(report *integrity.Report) {
	plan := integrity.BuildRepairPlan(report, report.Timestamp)
	for _, action := range plan.Automatic {
		if m.autoRepairClasses[action.Category] {
			m.logger.Printf("auto-repair eligible: category=%s description=%q", action.Category, action.Description)
		}
	}
}
