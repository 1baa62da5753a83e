// Package scheduler drives the strategy: it fires weekly DCA schedules in
// the business timezone, checks for CDC signal flips, and ticks the
// rotation strategy.
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/services/executor"
	"github.com/vadiminshakov/stacker/internal/services/signal"
	"github.com/vadiminshakov/stacker/internal/services/strategy"
	"go.uber.org/zap"
)

const (
	baseSleep        = 10 * time.Second
	scheduleCacheTTL = 5 * time.Minute
	transitionEvery  = time.Minute
	rotationEvery    = 5 * time.Minute

	// DefaultTimezone is the business timezone schedules are expressed in.
	DefaultTimezone = "Asia/Bangkok"
)

// ScheduleSource lists the active weekly DCA schedules.
type ScheduleSource interface {
	ListActive(ctx context.Context) ([]domain.Schedule, error)
}

// StateStore loads and saves the singleton strategy state.
type StateStore interface {
	Load(ctx context.Context) (*domain.StrategyState, error)
	Save(ctx context.Context, st *domain.StrategyState) error
}

// SignalEvaluator produces the current CDC signal for a venue.
type SignalEvaluator interface {
	Evaluate(ctx context.Context, ex domain.Exchange, src signal.CandleSource) domain.SignalResult
}

// ActionExecutor runs decided actions through dedupe and handlers.
type ActionExecutor interface {
	Execute(ctx context.Context, actions []domain.StrategyAction) []domain.ActionResult
}

// RotationTicker advances the gold rotation strategy. Nil disables it.
type RotationTicker interface {
	Tick(ctx context.Context, signal domain.Signal) error
}

// Notifier is the scheduler's alert sink.
type Notifier interface {
	Alert(ctx context.Context, title string, fields map[string]any)
}

// Config carries the scheduler's wiring knobs.
type Config struct {
	// Timezone is an IANA name; empty means DefaultTimezone.
	Timezone string
}

// Scheduler owns the main loop.
type Scheduler struct {
	loc       *time.Location
	schedules ScheduleSource
	state     StateStore
	signals   SignalEvaluator
	adapters  executor.AdapterProvider
	actions   ActionExecutor
	rotation  RotationTicker
	notifier  Notifier
	logger    *zap.Logger

	scheduleCache   []domain.Schedule
	cacheRefreshed  time.Time
	lastTransition  time.Time
	lastRotation    time.Time
	firedMarkers    map[string]bool
	firedMarkersDay string

	// now and sleep are replaceable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New builds a scheduler. The rotation ticker may be nil.
func New(
	cfg Config,
	schedules ScheduleSource,
	state StateStore,
	signals SignalEvaluator,
	adapters executor.AdapterProvider,
	actions ActionExecutor,
	rotation RotationTicker,
	notifier Notifier,
	logger *zap.Logger,
) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", tz)
	}

	return &Scheduler{
		loc:          loc,
		schedules:    schedules,
		state:        state,
		signals:      signals,
		adapters:     adapters,
		actions:      actions,
		rotation:     rotation,
		notifier:     notifier,
		logger:       logger,
		firedMarkers: make(map[string]bool),
		now:          time.Now,
		sleep:        sleepCtx,
	}, nil
}

// Run executes the loop until ctx is cancelled. Tick errors are logged and
// notified but never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.String("timezone", s.loc.String()))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fired := s.tick(ctx)

		if fired {
			// Skip past the match window so the same occurrence cannot
			// re-fire within its 15s tolerance.
			s.sleep(ctx, s.untilNextMinute())
		} else {
			s.sleep(ctx, baseSleep)
		}
	}
}

// tick runs one iteration and reports whether a schedule fired.
func (s *Scheduler) tick(ctx context.Context) bool {
	now := s.now().In(s.loc)

	s.refreshScheduleCache(ctx, now)
	s.pruneFiredMarkers(now)

	if now.Sub(s.lastTransition) >= transitionEvery {
		s.lastTransition = now
		if err := s.checkTransition(ctx, now); err != nil {
			s.fail(ctx, "transition check failed", err)
		}
	}

	if s.rotation != nil && now.Sub(s.lastRotation) >= rotationEvery {
		s.lastRotation = now
		if err := s.rotationTick(ctx); err != nil {
			s.fail(ctx, "rotation tick failed", err)
		}
	}

	fired, err := s.fireDueSchedules(ctx, now)
	if err != nil {
		s.fail(ctx, "schedule fire failed", err)
	}
	return fired
}

func (s *Scheduler) refreshScheduleCache(ctx context.Context, now time.Time) {
	if now.Sub(s.cacheRefreshed) < scheduleCacheTTL && s.cacheRefreshed != (time.Time{}) {
		return
	}
	schedules, err := s.schedules.ListActive(ctx)
	if err != nil {
		// Keep serving the stale cache; schedules change rarely.
		s.fail(ctx, "schedule refresh failed", err)
		return
	}
	s.scheduleCache = schedules
	s.cacheRefreshed = now
}

func (s *Scheduler) pruneFiredMarkers(now time.Time) {
	day := now.Format("2006-01-02")
	if day != s.firedMarkersDay {
		s.firedMarkers = make(map[string]bool)
		s.firedMarkersDay = day
	}
}

func (s *Scheduler) fireDueSchedules(ctx context.Context, now time.Time) (bool, error) {
	fired := false
	for i := range s.scheduleCache {
		sc := &s.scheduleCache[i]
		due, err := sc.DueAt(now)
		if err != nil {
			s.logger.Warn("skipping malformed schedule",
				zap.Int64("schedule_id", sc.ID), zap.Error(err))
			continue
		}
		marker := sc.FireMarker(now)
		if !due || s.firedMarkers[marker] {
			continue
		}

		if err := s.fireSchedule(ctx, now, sc); err != nil {
			return fired, err
		}
		s.firedMarkers[marker] = true
		fired = true
	}
	return fired, nil
}

func (s *Scheduler) fireSchedule(ctx context.Context, now time.Time, sc *domain.Schedule) error {
	st, err := s.state.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load state")
	}

	result := s.evaluateSignal(ctx, st.ActiveExchange)
	actions := strategy.DecideWeeklyDCA(strategy.WeeklyDCAInput{
		Now:           now,
		ScheduleID:    sc.ID,
		Mode:          sc.Mode,
		Amount:        sc.AmountUSDT,
		AmountBinance: sc.AmountBinance,
		AmountOKX:     sc.AmountOKX,
		Signal:        result.Signal,
		CDCEnabled:    st.CDCEnabled,
	})

	s.logger.Info("schedule due",
		zap.Int64("schedule_id", sc.ID),
		zap.String("signal", result.Signal.String()),
		zap.Int("actions", len(actions)))

	results := s.actions.Execute(ctx, actions)
	s.logResults("weekly dca", results)
	return nil
}

func (s *Scheduler) checkTransition(ctx context.Context, now time.Time) error {
	st, err := s.state.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load state")
	}
	// A disabled strategy neither liquidates holdings nor deploys reserve.
	if !st.CDCEnabled {
		return nil
	}

	result := s.evaluateSignal(ctx, st.ActiveExchange)
	current := result.Signal
	if current == domain.SignalUnknown || current == st.LastSignal {
		return nil
	}

	s.logger.Info("signal transition",
		zap.String("from", st.LastSignal.String()),
		zap.String("to", current.String()),
		zap.String("err_tag", result.Err))

	actions := strategy.DecideTransition(strategy.TransitionInput{
		Now:                now,
		Previous:           st.LastSignal,
		Current:            current,
		RedEpochActive:     st.RedEpochActive,
		Policy:             st.HalfSellPolicy,
		SellPercentBinance: st.SellPercentFor(domain.ExchangeBinance),
		SellPercentOKX:     st.SellPercentFor(domain.ExchangeOKX),
		SellPercentGlobal:  st.SellPercent,
		ActiveExchange:     st.ActiveExchange,
		ReserveUSDT:        st.ReserveUSDT,
		ReserveBinance:     st.ReserveByExchange[domain.ExchangeBinance],
		ReserveOKX:         st.ReserveByExchange[domain.ExchangeOKX],
	})

	results := s.actions.Execute(ctx, actions)
	s.logResults("transition", results)

	// Handlers persist their own ledger and reserve effects; reload before
	// stamping the flip so those writes are not clobbered.
	st, err = s.state.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "reload state")
	}
	st.LastSignal = current
	st.LastTransitionAt = now.UTC()
	switch current {
	case domain.SignalDown:
		st.RedEpochActive = true
	case domain.SignalUp:
		st.RedEpochActive = false
	}
	return errors.Wrap(s.state.Save(ctx, st), "save state")
}

func (s *Scheduler) rotationTick(ctx context.Context) error {
	st, err := s.state.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load state")
	}
	result := s.evaluateSignal(ctx, st.ActiveExchange)
	return s.rotation.Tick(ctx, result.Signal)
}

// evaluateSignal resolves the venue adapter and asks the engine. Adapter
// resolution failure degrades to down, same as a broken feed.
func (s *Scheduler) evaluateSignal(ctx context.Context, ex domain.Exchange) domain.SignalResult {
	adapter, err := s.adapters(ex)
	if err != nil {
		s.logger.Warn("adapter unavailable for signal, degrading to down",
			zap.String("exchange", ex.String()), zap.Error(err))
		return domain.SignalResult{Signal: domain.SignalDown, Err: "adapter_unavailable"}
	}
	return s.signals.Evaluate(ctx, ex, adapter)
}

func (s *Scheduler) logResults(kind string, results []domain.ActionResult) {
	for _, r := range results {
		s.logger.Info("action finished",
			zap.String("kind", kind),
			zap.String("dedupe_key", r.DedupeKey),
			zap.String("status", string(r.Status)),
			zap.String("detail", r.Detail))
	}
}

func (s *Scheduler) fail(ctx context.Context, title string, err error) {
	s.logger.Error(title, zap.Error(err))
	if s.notifier != nil {
		s.notifier.Alert(ctx, title, map[string]any{"error": err.Error()})
	}
}

func (s *Scheduler) untilNextMinute() time.Duration {
	now := s.now().In(s.loc)
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
