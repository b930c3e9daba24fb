// File: internal/redraw/session.go

// Package redraw decides, without cooperation from the target application,
// when the remote screen has settled after an action. It combines two
// heuristics: a two-phase screen test (the screen must first visibly change
// from its pre-action baseline, then stop changing across consecutive
// samples) and a network-quiescence test (interval traffic deltas must fall
// below their own rolling average and a near-idle floor). A single screen
// threshold is insufficient on its own: it would declare settlement before a
// slow-loading UI has even begun to render, and background loading often
// produces no immediate visual delta.
package redraw

import (
	"context"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/halcyonqa/pilot-cli/api/schemas"
	"github.com/halcyonqa/pilot-cli/internal/imagediff"
)

// ScreenSource captures the current screen as a base64-encoded PNG.
type ScreenSource interface {
	Screenshot(ctx context.Context) (string, error)
}

// NetworkSource reads the sandbox's cumulative traffic counters.
type NetworkSource interface {
	NetworkTotals(ctx context.Context) (schemas.NetworkTotals, error)
}

// Options configure one settle session. Zero DiffThresholdPercent falls back
// to the default noise floor.
type Options struct {
	Enabled              bool
	ScreenRedraw         bool
	NetworkMonitor       bool
	DiffThresholdPercent float64
}

// State is the session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarted
	StatePolling
	StateSettled
	StateTimedOut
)

const (
	// DefaultPollInterval is the screen sampling cadence during Wait.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultSampleInterval is the network counter sampling cadence.
	DefaultSampleInterval = 15 * time.Second
	// DefaultDiffThresholdPercent is the noise floor below which a frame
	// diff counts as "unchanged".
	DefaultDiffThresholdPercent = 0.1

	frameWindowSize      = 10
	networkWindowSize    = 60
	stableFramesRequired = 2

	// idleFloorBytesPerSec gates network settlement in absolute terms: a
	// decaying-but-still-busy link must not count as quiet just because it
	// is below its own rolling average.
	idleFloorBytesPerSec = 1024
)

// Session is the per-action bookkeeping for one settle wait. Exactly one
// session may be active per dispatcher at a time; sessions are single-use and
// discarded once Wait resolves.
type Session struct {
	screen  ScreenSource
	network NetworkSource
	log     *zap.Logger

	// PollInterval and SampleInterval are overridable for tests.
	PollInterval   time.Duration
	SampleInterval time.Duration

	opts      Options
	noop      bool
	startTime time.Time

	// Screen state, touched only from Wait's polling loop.
	baseline            image.Image
	prev                image.Image
	changedFromBaseline bool
	consecutiveStable   int
	frameDiffs          *window

	// Network state, written by the sampler goroutine, read by Wait.
	mu         sync.Mutex
	state      State
	haveTotals bool
	lastTotals schemas.NetworkTotals
	rxWindow   *window
	txWindow   *window
	lastRx     float64
	lastTx     float64

	samplerStop chan struct{}
	samplerDone chan struct{}
	sampling    bool
}

// NewSession creates an idle session bound to the given sources.
func NewSession(screen ScreenSource, network NetworkSource, logger *zap.Logger) *Session {
	return &Session{
		screen:         screen,
		network:        network,
		log:            logger.Named("redraw"),
		PollInterval:   DefaultPollInterval,
		SampleInterval: DefaultSampleInterval,
		frameDiffs:     newWindow(frameWindowSize),
		rxWindow:       newWindow(networkWindowSize),
		txWindow:       newWindow(networkWindowSize),
	}
}

// Start arms the session: it captures the pre-action screen baseline and
// begins sampling network totals. When the session is disabled, or both
// monitors are off, the session degenerates to a no-op whose Wait resolves
// immediately. Baseline/counter capture failures degrade the corresponding
// monitor rather than failing the action.
func (s *Session) Start(ctx context.Context, opts Options) error {
	if opts.DiffThresholdPercent <= 0 {
		opts.DiffThresholdPercent = DefaultDiffThresholdPercent
	}
	s.opts = opts
	s.startTime = time.Now()
	s.setState(StateStarted)

	if !opts.Enabled || (!opts.ScreenRedraw && !opts.NetworkMonitor) {
		s.noop = true
		return nil
	}

	// The baseline screenshot and the initial network counters are
	// independent round trips; take them concurrently.
	g, gctx := errgroup.WithContext(ctx)
	if opts.ScreenRedraw {
		g.Go(func() error {
			shot, err := s.screen.Screenshot(gctx)
			if err != nil {
				s.log.Warn("Baseline screenshot failed; first poll frame becomes the baseline", zap.Error(err))
				return nil
			}
			img, err := imagediff.DecodeBase64PNG(shot)
			if err != nil {
				s.log.Warn("Baseline screenshot undecodable; first poll frame becomes the baseline", zap.Error(err))
				return nil
			}
			s.baseline = img
			return nil
		})
	}
	if opts.NetworkMonitor {
		g.Go(func() error {
			totals, err := s.network.NetworkTotals(gctx)
			if err != nil {
				s.log.Warn("Initial network totals unavailable", zap.Error(err))
				return nil
			}
			s.mu.Lock()
			s.lastTotals = totals
			s.haveTotals = true
			s.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if opts.NetworkMonitor {
		s.startSampler(ctx)
	}
	return nil
}

// Wait polls until the settle condition holds or the timeout elapses,
// whichever comes first. A timeout is not an error: the caller proceeds on a
// best-effort basis and the session records StateTimedOut. Context
// cancellation stops the polling loop immediately and is returned.
func (s *Session) Wait(ctx context.Context, timeout time.Duration) error {
	defer s.Stop()

	if s.noop {
		s.setState(StateSettled)
		return nil
	}
	s.setState(StatePolling)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			s.setState(StateTimedOut)
			s.log.Debug("Redraw wait timed out",
				zap.Duration("timeout", timeout),
				zap.Bool("changed_from_baseline", s.changedFromBaseline))
			return nil
		case <-ticker.C:
			screenOK := !s.opts.ScreenRedraw || s.screenSettled(ctx)
			netOK := !s.opts.NetworkMonitor || s.networkSettled()
			if screenOK && netOK {
				s.setState(StateSettled)
				s.log.Debug("Screen settled",
					zap.Duration("after", time.Since(s.startTime)),
					zap.Int("stable_frames", s.consecutiveStable))
				return nil
			}
		}
	}
}

// Stop halts the network sampler. Safe to call repeatedly and after Wait.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.sampling {
		s.mu.Unlock()
		return
	}
	s.sampling = false
	close(s.samplerStop)
	done := s.samplerDone
	s.mu.Unlock()
	<-done
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// screenSettled captures one frame and applies the two-phase test. Phase one
// flips changedFromBaseline once the frame departs from the baseline by more
// than the noise floor; the flag is one-way for the session. Phase two
// requires the consecutive-frame diff to stay below its own rolling mean (or
// the noise floor) for stableFramesRequired samples in a row. Capture or
// decode failures leave the screen unsettled for this poll.
func (s *Session) screenSettled(ctx context.Context) bool {
	shot, err := s.screen.Screenshot(ctx)
	if err != nil {
		s.log.Warn("Screenshot failed during settle poll", zap.Error(err))
		return false
	}
	frame, err := imagediff.DecodeBase64PNG(shot)
	if err != nil {
		s.log.Warn("Undecodable frame during settle poll", zap.Error(err))
		return false
	}

	if s.baseline == nil {
		s.baseline = frame
		s.prev = frame
		return false
	}

	threshold := s.opts.DiffThresholdPercent
	baseDiff := imagediff.Percent(s.baseline, frame, imagediff.DefaultTolerance)
	if !s.changedFromBaseline && baseDiff > threshold {
		s.changedFromBaseline = true
		s.log.Debug("Screen changed from baseline",
			zap.Float64("diff_percent", imagediff.Round2(baseDiff)))
	}

	if s.prev != nil {
		frameDiff := imagediff.Percent(s.prev, frame, imagediff.DefaultTolerance)
		s.frameDiffs.push(frameDiff)
		stable := frameDiff <= threshold || frameDiff < s.frameDiffs.mean()
		if stable {
			s.consecutiveStable++
		} else {
			s.consecutiveStable = 0
		}
	}
	s.prev = frame

	return s.changedFromBaseline && s.consecutiveStable >= stableFramesRequired
}

// networkSettled reports whether traffic has quieted: the latest rx and tx
// deltas must both score at or below zero against their rolling windows AND
// sit under the absolute idle floor. The floor keeps a link that is merely
// decaying, but still busy, from counting as settled.
func (s *Session) networkSettled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rxWindow.len() == 0 {
		return false
	}
	floor := float64(idleFloorBytesPerSec) * s.SampleInterval.Seconds()
	rxQuiet := s.rxWindow.zScore(s.lastRx) <= 0 && s.lastRx <= floor
	txQuiet := s.txWindow.zScore(s.lastTx) <= 0 && s.lastTx <= floor
	return rxQuiet && txQuiet
}

// startSampler launches the interval-accumulating network sampler. Starting
// twice while already running is a no-op; Stop halts it and is required to
// avoid leaking the timer goroutine across actions.
func (s *Session) startSampler(ctx context.Context) {
	s.mu.Lock()
	if s.sampling {
		s.mu.Unlock()
		return
	}
	s.sampling = true
	s.samplerStop = make(chan struct{})
	s.samplerDone = make(chan struct{})
	stop, done := s.samplerStop, s.samplerDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.sampleNetwork(ctx)
			}
		}
	}()
}

// sampleNetwork reads the cumulative counters and pushes the byte deltas
// since the previous sample into the rolling windows.
func (s *Session) sampleNetwork(ctx context.Context) {
	totals, err := s.network.NetworkTotals(ctx)
	if err != nil {
		s.log.Warn("Network totals unavailable during settle poll", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveTotals {
		s.lastTotals = totals
		s.haveTotals = true
		return
	}
	rxDelta := float64(totals.RxBytes - s.lastTotals.RxBytes)
	txDelta := float64(totals.TxBytes - s.lastTotals.TxBytes)
	s.lastTotals = totals
	if rxDelta < 0 || txDelta < 0 {
		// Counter reset on the sandbox side; skip the sample.
		return
	}
	s.rxWindow.push(rxDelta)
	s.txWindow.push(txDelta)
	s.lastRx = rxDelta
	s.lastTx = txDelta
}
