package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"Go2NetGuard/internal/capture"
	"Go2NetGuard/internal/classifier"
	"Go2NetGuard/internal/extract"
	"Go2NetGuard/internal/flowdata"
	"Go2NetGuard/internal/metrics"
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/triage"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Options tune the control loop.
type Options struct {
	Interface         string
	MinRows           int
	CycleDeadline     time.Duration // zero disables the deadline
	ReconcileInterval time.Duration
	Metrics           *metrics.Metrics
}

// Status is a snapshot of the loop's progress.
type Status struct {
	Interface     string    `json:"interface"`
	Running       bool      `json:"running"`
	Phase         string    `json:"phase"`
	Cycles        int       `json:"cycles"`
	Recovered     int       `json:"recovered"`
	LastCycleID   string    `json:"last_cycle_id,omitempty"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitempty"`
	LastMalicious int       `json:"last_malicious_flows"`
	ActiveBlocks  int       `json:"active_blocks"`
}

// Guard runs capture cycles one after another and feeds their verdicts to
// the firewall manager.
type Guard struct {
	opts      Options
	capturer  capture.Capturer
	extractor extract.Extractor
	adapter   *classifier.Adapter
	session   *Session
	newID     func() string

	mu     sync.RWMutex
	phase  Phase
	status Status
}

// New wires a guard. The session stays owned by the caller.
func New(opts Options, capturer capture.Capturer, extractor extract.Extractor, adapter *classifier.Adapter, session *Session) *Guard {
	if opts.MinRows <= 0 {
		opts.MinRows = 1
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 30 * time.Second
	}
	if fw := session.Firewall; fw != nil && opts.Metrics != nil {
		opts.Metrics.WatchActiveBlocks(func() int { return len(fw.ActiveBlocks()) })
	}
	return &Guard{
		opts:      opts,
		capturer:  capturer,
		extractor: extractor,
		adapter:   adapter,
		session:   session,
		newID:     uuid.NewString,
		status:    Status{Interface: opts.Interface},
	}
}

// Status returns a snapshot of the loop state.
func (g *Guard) Status() Status {
	g.mu.RLock()
	st := g.status
	st.Phase = g.phase.String()
	g.mu.RUnlock()

	if fw := g.session.Firewall; fw != nil {
		st.ActiveBlocks = len(fw.ActiveBlocks())
	}
	return st
}

func (g *Guard) setPhase(p Phase) {
	g.mu.Lock()
	g.phase = p
	g.mu.Unlock()
	log.WithField("phase", p).Debug("Entering phase")
}

// Run reconciles the firewall, starts the periodic reconciler and executes
// cycles until ctx is done. Insufficient flow data and an expired cycle
// deadline restart the cycle; any other error stops the loop and is returned.
func (g *Guard) Run(ctx context.Context) error {
	g.mu.Lock()
	g.status.Running = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.status.Running = false
		g.phase = PhaseIdle
		g.mu.Unlock()
	}()

	var wg sync.WaitGroup
	reconcileCtx, stopReconciler := context.WithCancel(ctx)
	defer func() {
		stopReconciler()
		wg.Wait()
	}()

	if fw := g.session.Firewall; fw != nil {
		g.reconcile(time.Now())
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.reconcileLoop(reconcileCtx)
		}()
	}

	log.Printf("Guard started on %s", g.opts.Interface)
	for {
		if ctx.Err() != nil {
			log.Println("Guard stopped")
			return nil
		}

		started := time.Now()
		_, err := g.RunCycle(ctx)
		switch {
		case err == nil:
			g.observe(metrics.OutcomeCompleted, started)
		case ctx.Err() != nil:
			log.Println("Guard stopped")
			return nil
		case g.recoverable(err):
			g.mu.Lock()
			g.status.Recovered++
			g.mu.Unlock()
			g.observe(metrics.OutcomeRecovered, started)
			log.WithError(err).Println("Cycle discarded, restarting capture")
		default:
			g.observe(metrics.OutcomeFailed, started)
			return err
		}
	}
}

func (g *Guard) recoverable(err error) bool {
	return errors.Is(err, flowdata.ErrInsufficientFlowData) || errors.Is(err, context.DeadlineExceeded)
}

func (g *Guard) observe(outcome string, started time.Time) {
	if g.opts.Metrics != nil {
		g.opts.Metrics.ObserveCycle(outcome, time.Since(started))
	}
}

func (g *Guard) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(g.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			g.reconcile(now)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Guard) reconcile(now time.Time) {
	fw := g.session.Firewall
	if expired := fw.ExpireBlocks(now); len(expired) > 0 {
		log.Printf("Expired %d blocks", len(expired))
	}
	res, err := fw.Reconcile()
	if err != nil {
		log.WithError(err).Warn("Firewall reconciliation failed")
		return
	}
	if len(res.Removed)+len(res.Installed) > 0 {
		log.Printf("Reconciled firewall: removed %d stale rules, reinstalled %d", len(res.Removed), len(res.Installed))
	}
}

// RunCycle executes one capture cycle. The capture artifact and dataset
// are removed on every path, after the flow log has been written.
func (g *Guard) RunCycle(ctx context.Context) (*model.CycleReport, error) {
	report := &model.CycleReport{ID: g.newID(), Interface: g.opts.Interface, StartedAt: time.Now()}

	cycleCtx := ctx
	if g.opts.CycleDeadline > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, g.opts.CycleDeadline)
		defer cancel()
	}

	pcapPath := filepath.Join(g.session.WorkDir, report.ID+".pcap")
	csvPath := filepath.Join(g.session.WorkDir, report.ID+".csv")
	defer g.cleanup(pcapPath, csvPath)

	g.setPhase(PhaseCapturing)
	artifact, err := g.capturer.Capture(cycleCtx, pcapPath)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	g.setPhase(PhaseExtracting)
	if err := g.extractor.Extract(cycleCtx, artifact.Path, csvPath); err != nil {
		return nil, fmt.Errorf("feature extraction failed: %w", err)
	}

	g.setPhase(PhaseParsing)
	ds, err := flowdata.ParseFile(csvPath, g.opts.MinRows)
	if err != nil {
		return nil, err
	}

	g.setPhase(PhaseClassifying)
	results, err := g.adapter.Classify(ds)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	report.Results = results

	g.setPhase(PhaseTriaging)
	sources, lines := triage.Results(results)
	report.MaliciousSources = sources.Slice()
	report.FlowLogs = lines

	g.setPhase(PhaseEnforcing)
	if fw := g.session.Firewall; fw != nil && sources.Len() > 0 {
		res := fw.TrackFlows(report.MaliciousSources)
		if len(res.Failed) > 0 {
			log.Printf("%d block installs failed and will be retried", len(res.Failed))
		}
	}

	g.setPhase(PhaseLogging)
	if err := g.session.FlowLog.Append(lines); err != nil {
		return nil, err
	}
	report.FinishedAt = time.Now()
	for _, w := range g.session.Writers {
		if err := w.Write(ctx, report); err != nil {
			log.WithError(err).Warn("Failed to persist cycle verdicts")
		}
	}

	log.Printf("Cycle %s: %d flows, %d malicious from %d sources", report.ID, len(results), len(lines), sources.Len())
	if g.opts.Metrics != nil {
		g.opts.Metrics.ObserveFlows(len(results), len(lines))
	}

	g.mu.Lock()
	g.status.Cycles++
	g.status.LastCycleID = report.ID
	g.status.LastCycleAt = report.FinishedAt
	g.status.LastMalicious = len(lines)
	g.mu.Unlock()
	return report, nil
}

func (g *Guard) cleanup(paths ...string) {
	g.setPhase(PhaseCleanup)
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warnf("Failed to remove %s", p)
		}
	}
}
