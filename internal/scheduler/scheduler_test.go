package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/exchange"
	"github.com/vadiminshakov/stacker/internal/services/signal"
	"go.uber.org/zap"
)

type memSchedules struct {
	mu        sync.Mutex
	schedules []domain.Schedule
	calls     int
}

func (m *memSchedules) ListActive(context.Context) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.schedules, nil
}

type memState struct {
	mu sync.Mutex
	st *domain.StrategyState
}

func (m *memState) Load(context.Context) (*domain.StrategyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.st
	return &cp, nil
}

func (m *memState) Save(_ context.Context, st *domain.StrategyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.st = &cp
	return nil
}

type fixedSignal struct {
	result domain.SignalResult
}

func (f *fixedSignal) Evaluate(context.Context, domain.Exchange, signal.CandleSource) domain.SignalResult {
	return f.result
}

type recordingExecutor struct {
	mu      sync.Mutex
	batches [][]domain.StrategyAction
}

func (r *recordingExecutor) Execute(_ context.Context, actions []domain.StrategyAction) []domain.ActionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, actions)
	results := make([]domain.ActionResult, 0, len(actions))
	for _, a := range actions {
		results = append(results, domain.Succeeded(a, nil))
	}
	return results
}

func (r *recordingExecutor) actionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

type recordingRotation struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (r *recordingRotation) Tick(_ context.Context, sig domain.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}

type schedFixture struct {
	sched     *Scheduler
	schedules *memSchedules
	state     *memState
	executor  *recordingExecutor
	rotation  *recordingRotation
	signal    *fixedSignal
	clock     time.Time
}

func newSchedFixture(t *testing.T, schedules []domain.Schedule) *schedFixture {
	t.Helper()

	st := domain.NewStrategyState()
	// Matches the fixture's default up signal so tests exercising the weekly
	// path do not also trigger a transition.
	st.LastSignal = domain.SignalUp
	st.CDCEnabled = true

	f := &schedFixture{
		schedules: &memSchedules{schedules: schedules},
		state:     &memState{st: st},
		executor:  &recordingExecutor{},
		rotation:  &recordingRotation{},
		signal:    &fixedSignal{result: domain.SignalResult{Signal: domain.SignalUp}},
		// Monday.
		clock: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
	}

	provider := func(domain.Exchange) (exchange.Adapter, error) { return nil, nil }
	s, err := New(Config{Timezone: "UTC"},
		f.schedules, f.state, f.signal, provider, f.executor, f.rotation,
		nil, zap.NewNop())
	require.NoError(t, err)

	s.now = func() time.Time { return f.clock }
	s.sleep = func(context.Context, time.Duration) {}
	f.sched = s
	return f
}

func weeklySchedule(id int64, timeOfDay string) domain.Schedule {
	return domain.Schedule{
		ID:         id,
		TimeOfDay:  timeOfDay,
		Weekdays:   map[time.Weekday]bool{time.Monday: true},
		AmountUSDT: decimal.NewFromInt(50),
		Mode:       domain.ModeGlobal,
		Active:     true,
	}
}

func TestTickFiresDueScheduleOnce(t *testing.T) {
	f := newSchedFixture(t, []domain.Schedule{weeklySchedule(7, "09:00")})

	fired := f.sched.tick(context.Background())
	require.True(t, fired)
	require.Equal(t, 1, f.executor.actionCount())

	batch := f.executor.batches[0]
	require.Equal(t, domain.ActionDCABuy, batch[0].Kind)
	require.True(t, batch[0].Amount.Equal(decimal.NewFromInt(50)))

	// Same occurrence within the window must not re-fire.
	f.clock = f.clock.Add(5 * time.Second)
	fired = f.sched.tick(context.Background())
	require.False(t, fired)
	require.Equal(t, 1, f.executor.actionCount())
}

func TestTickSkipsScheduleOutsideWindow(t *testing.T) {
	f := newSchedFixture(t, []domain.Schedule{weeklySchedule(7, "09:30")})

	require.False(t, f.sched.tick(context.Background()))
	require.Zero(t, f.executor.actionCount())
}

func TestTickSkipsWrongWeekday(t *testing.T) {
	f := newSchedFixture(t, []domain.Schedule{weeklySchedule(7, "09:00")})
	// Tuesday.
	f.clock = time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

	require.False(t, f.sched.tick(context.Background()))
	require.Zero(t, f.executor.actionCount())
}

func TestDownSignalMovesAmountToReserve(t *testing.T) {
	f := newSchedFixture(t, []domain.Schedule{weeklySchedule(7, "09:00")})
	f.state.st.CDCEnabled = true
	f.state.st.LastSignal = domain.SignalDown
	f.signal.result = domain.SignalResult{Signal: domain.SignalDown}

	require.True(t, f.sched.tick(context.Background()))

	// One batch per concern: the transition check runs first but down==down
	// yields nothing, so the only actions are the weekly decision's.
	var kinds []domain.ActionKind
	for _, b := range f.executor.batches {
		for _, a := range b {
			kinds = append(kinds, a.Kind)
		}
	}
	require.Equal(t, []domain.ActionKind{domain.ActionReserveMove}, kinds)
}

func TestTransitionCheckRunsAndStampsState(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.state.st.LastSignal = domain.SignalUp
	f.state.st.SellPercent = decimal.NewFromInt(50)
	f.signal.result = domain.SignalResult{Signal: domain.SignalDown}

	f.sched.tick(context.Background())

	// The global percent covers both venues.
	require.Equal(t, 2, f.executor.actionCount())
	for _, a := range f.executor.batches[0] {
		require.Equal(t, domain.ActionHalfSell, a.Kind)
	}

	require.Equal(t, domain.SignalDown, f.state.st.LastSignal)
	require.True(t, f.state.st.RedEpochActive)
	require.False(t, f.state.st.LastTransitionAt.IsZero())
}

func TestTransitionCheckThrottled(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.state.st.LastSignal = domain.SignalUp
	f.state.st.SellPercent = decimal.NewFromInt(50)
	f.signal.result = domain.SignalResult{Signal: domain.SignalDown}

	f.sched.tick(context.Background())
	require.Equal(t, 1, len(f.executor.batches))

	// 10 seconds later the 60s transition cadence has not elapsed.
	f.clock = f.clock.Add(10 * time.Second)
	f.sched.tick(context.Background())
	require.Equal(t, 1, len(f.executor.batches))

	f.clock = f.clock.Add(time.Minute)
	f.sched.tick(context.Background())
	// down==down now, still no new batch.
	require.Equal(t, 1, len(f.executor.batches))
}

func TestUnknownSignalDoesNotTransition(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.state.st.LastSignal = domain.SignalUp
	f.signal.result = domain.SignalResult{Signal: domain.SignalUnknown, Err: "fetch_failed"}

	f.sched.tick(context.Background())

	require.Zero(t, f.executor.actionCount())
	require.Equal(t, domain.SignalUp, f.state.st.LastSignal)
}

func TestRotationTickReceivesSignal(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.signal.result = domain.SignalResult{Signal: domain.SignalUp}

	f.sched.tick(context.Background())
	require.Equal(t, []domain.Signal{domain.SignalUp}, f.rotation.signals)

	// Within the 5 minute cadence no second tick happens.
	f.clock = f.clock.Add(time.Minute)
	f.sched.tick(context.Background())
	require.Len(t, f.rotation.signals, 1)

	f.clock = f.clock.Add(5 * time.Minute)
	f.sched.tick(context.Background())
	require.Len(t, f.rotation.signals, 2)
}

func TestScheduleCacheHonorsTTL(t *testing.T) {
	f := newSchedFixture(t, []domain.Schedule{weeklySchedule(7, "23:00")})

	f.sched.tick(context.Background())
	f.clock = f.clock.Add(time.Minute)
	f.sched.tick(context.Background())
	require.Equal(t, 1, f.schedules.calls)

	f.clock = f.clock.Add(5 * time.Minute)
	f.sched.tick(context.Background())
	require.Equal(t, 2, f.schedules.calls)
}

func TestTwoSchedulesAtSameTimeBothFire(t *testing.T) {
	f := newSchedFixture(t, []domain.Schedule{
		weeklySchedule(1, "09:00"),
		weeklySchedule(2, "09:00"),
	})

	require.True(t, f.sched.tick(context.Background()))
	require.Equal(t, 2, f.executor.actionCount())

	var ids []int64
	for _, b := range f.executor.batches {
		for _, a := range b {
			ids = append(ids, a.ScheduleID)
		}
	}
	require.ElementsMatch(t, []int64{1, 2}, ids)

	// Neither occurrence re-fires within the window.
	f.clock = f.clock.Add(5 * time.Second)
	require.False(t, f.sched.tick(context.Background()))
	require.Equal(t, 2, f.executor.actionCount())
}

func TestTransitionSkippedWhileStrategyDisabled(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.state.st.CDCEnabled = false
	f.state.st.LastSignal = domain.SignalUp
	f.state.st.SellPercent = decimal.NewFromInt(50)
	f.signal.result = domain.SignalResult{Signal: domain.SignalDown}

	f.sched.tick(context.Background())

	require.Zero(t, f.executor.actionCount())
	require.Equal(t, domain.SignalUp, f.state.st.LastSignal)
	require.False(t, f.state.st.RedEpochActive)
}

func TestMalformedScheduleSkipped(t *testing.T) {
	f := newSchedFixture(t, []domain.Schedule{
		weeklySchedule(1, "not-a-time"),
		weeklySchedule(2, "09:00"),
	})

	require.True(t, f.sched.tick(context.Background()))
	require.Equal(t, 1, f.executor.actionCount())
}
