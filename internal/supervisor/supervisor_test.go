package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/interfaces"
	"github.com/ternarybob/stockfeed/internal/models"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, timeout time.Duration, subcommand string) Output {
	args := m.Called(subcommand)
	return args.Get(0).(Output)
}

func (m *mockRunner) Start(subcommand string) (Process, error) {
	args := m.Called(subcommand)
	process, _ := args.Get(0).(Process)
	return process, args.Error(1)
}

type fakeProcess struct {
	mu         sync.Mutex
	pid        int
	exited     bool
	terminated int
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *fakeProcess) Terminate(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated++
	p.exited = true
	return nil
}

func (p *fakeProcess) Terminations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type fakeProber struct {
	result ProbeResult
}

func (p *fakeProber) Probe(ctx context.Context) ProbeResult { return p.result }

type memoryRuns struct {
	mu   sync.Mutex
	runs []*models.RunRecord
}

func (m *memoryRuns) SaveRun(ctx context.Context, run *models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs = append(m.runs, &copied)
	return nil
}

func (m *memoryRuns) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *memoryRuns) ListRecent(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.RunRecord(nil), m.runs...), nil
}

func (m *memoryRuns) Prune(ctx context.Context, keep int) (int, error) { return 0, nil }

func testConfig() Config {
	return Config{
		CheckInterval:  10 * time.Millisecond,
		DetectTimeout:  time.Second,
		RefreshTimeout: time.Second,
		Retry:          common.RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		StopTimeout:    time.Second,
	}
}

func newTestSupervisor(runner Runner, prober Prober, runs *memoryRuns) *Supervisor {
	// A nil *memoryRuns must not become a non-nil interface value.
	var storage interfaces.RunStorage
	if runs != nil {
		storage = runs
	}
	return New(testConfig(), runner, prober, storage, nil, arbor.NewLogger())
}

func TestCycle_WithoutRunStorage(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", CommandDetect).Return(Output{Stdout: "NO_CHANGED\n"}).Once()

	sup := New(testConfig(), runner, &fakeProber{}, nil, nil, arbor.NewLogger())

	var run *models.RunRecord
	require.NotPanics(t, func() { run = sup.Cycle(context.Background()) })
	assert.Equal(t, models.SignalUnchanged, run.Detection)
	assert.False(t, run.FinishedAt.IsZero())
	runner.AssertExpectations(t)
}

func TestCycle_DetectorTimeoutsDegradeToUnchanged(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", CommandDetect).Return(Output{TimedOut: true, ExitCode: -1})

	runs := &memoryRuns{}
	sup := newTestSupervisor(runner, &fakeProber{}, runs)

	done := make(chan *models.RunRecord, 1)
	go func() { done <- sup.Cycle(context.Background()) }()

	select {
	case run := <-done:
		assert.Equal(t, models.SignalUnchanged, run.Detection)
		assert.Equal(t, 3, run.Attempts)
		assert.False(t, run.Refreshed)
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not finish")
	}

	runner.AssertNumberOfCalls(t, "Run", 3)
	runner.AssertNotCalled(t, "Run", CommandRefresh)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, models.RunKindCheck, runs.runs[0].Kind)
}

func TestCycle_UnrecognizedOutputRetried(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", CommandDetect).Return(Output{Stdout: "Traceback (most recent call last)\n", Stderr: "Error: boom"}).Once()
	runner.On("Run", CommandDetect).Return(Output{Stdout: "ERROR\n"}).Once()
	runner.On("Run", CommandDetect).Return(Output{Stdout: "NO_CHANGED\n"}).Once()

	sup := newTestSupervisor(runner, &fakeProber{}, nil)
	run := sup.Cycle(context.Background())

	assert.Equal(t, models.SignalUnchanged, run.Detection)
	assert.Equal(t, 3, run.Attempts)
	runner.AssertNumberOfCalls(t, "Run", 3)
}

func TestCycle_ChangedTriggersRefresh(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", CommandDetect).Return(Output{Stdout: "YES_CHANGED\n"}).Once()
	runner.On("Run", CommandRefresh).Return(Output{ExitCode: 1, Stderr: "Error: no records"}).Once()
	runner.On("Run", CommandRefresh).Return(Output{}).Once()

	sup := newTestSupervisor(runner, &fakeProber{}, nil)
	run := sup.Cycle(context.Background())

	assert.Equal(t, models.SignalChanged, run.Detection)
	assert.Equal(t, 1, run.Attempts)
	assert.True(t, run.Refreshed)
	assert.True(t, run.RefreshOK)
	runner.AssertNumberOfCalls(t, "Run", 3)
}

func TestCycle_RefreshFailureIsNotFatal(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", CommandDetect).Return(Output{Stdout: "YES_CHANGED\n"})
	runner.On("Run", CommandRefresh).Return(Output{TimedOut: true, ExitCode: -1})

	sup := newTestSupervisor(runner, &fakeProber{}, nil)
	run := sup.Cycle(context.Background())

	assert.True(t, run.Refreshed)
	assert.False(t, run.RefreshOK)
	assert.NotEmpty(t, run.Error)
	runner.AssertNumberOfCalls(t, "Run", 4)
	assert.Equal(t, StateChecking, sup.State())
}

func TestStart_RefreshFailureIsFatal(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", CommandRefresh).Return(Output{ExitCode: 1})

	runs := &memoryRuns{}
	sup := newTestSupervisor(runner, &fakeProber{}, runs)
	err := sup.Start(context.Background())

	assert.ErrorIs(t, err, ErrStartup)
	runner.AssertNumberOfCalls(t, "Run", 3)
	runner.AssertNotCalled(t, "Start", CommandServe)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, models.RunKindStartup, runs.runs[0].Kind)
	assert.False(t, runs.runs[0].RefreshOK)
	assert.NotEmpty(t, runs.runs[0].Error)
}

func TestStart_AdoptsListeningAPI(t *testing.T) {
	runner := &mockRunner{}
	prober := &fakeProber{result: ProbeResult{Listening: true, Err: errors.New("404")}}

	runs := &memoryRuns{}
	sup := newTestSupervisor(runner, prober, runs)
	require.NoError(t, sup.Start(context.Background()))

	runner.AssertNotCalled(t, "Run", mock.Anything)
	runner.AssertNotCalled(t, "Start", mock.Anything)
	assert.True(t, runs.runs[0].APIAdopted)

	// nothing was spawned, so nothing is terminated
	sup.Stop()
	assert.Equal(t, StateStopping, sup.State())
}

func TestStart_SpawnsAndRespawnsAPI(t *testing.T) {
	first := &fakeProcess{pid: 100}
	second := &fakeProcess{pid: 101}

	runner := &mockRunner{}
	runner.On("Run", CommandRefresh).Return(Output{}).Once()
	runner.On("Start", CommandServe).Return(first, nil).Once()
	runner.On("Start", CommandServe).Return(second, nil).Once()
	runner.On("Run", CommandDetect).Return(Output{Stdout: "NO_CHANGED\n"})

	sup := newTestSupervisor(runner, &fakeProber{}, nil)
	require.NoError(t, sup.Start(context.Background()))

	run := sup.Cycle(context.Background())
	assert.False(t, run.APIRestarted, "running API must not be respawned")

	first.mu.Lock()
	first.exited = true
	first.mu.Unlock()

	run = sup.Cycle(context.Background())
	assert.True(t, run.APIRestarted)
	runner.AssertNumberOfCalls(t, "Start", 2)

	sup.Stop()
	assert.Equal(t, 1, second.Terminations())
	assert.Equal(t, 0, first.Terminations())
}

func TestRun_StopsOnCancel(t *testing.T) {
	process := &fakeProcess{pid: 200}

	runner := &mockRunner{}
	runner.On("Run", CommandRefresh).Return(Output{}).Once()
	runner.On("Start", CommandServe).Return(process, nil).Once()
	runner.On("Run", CommandDetect).Return(Output{Stdout: "NO_CHANGED\n"})

	runs := &memoryRuns{}
	sup := newTestSupervisor(runner, &fakeProber{}, runs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		list, _ := runs.ListRecent(ctx, 0)
		return len(list) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, 1, process.Terminations())
	assert.Equal(t, StateStopping, sup.State())
}

func TestNextWait(t *testing.T) {
	sup := newTestSupervisor(&mockRunner{}, &fakeProber{}, nil)
	sup.config.CheckInterval = 2 * time.Hour

	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local)
	assert.Equal(t, 2*time.Hour, sup.NextWait(now))

	schedule, err := common.ParseCheckSchedule("0 * * * *")
	require.NoError(t, err)
	sup.config.Schedule = schedule
	assert.Equal(t, 30*time.Minute, sup.NextWait(now))
}

func TestNewConfig(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Supervisor.CheckInterval = 30

	c, err := NewConfig(config)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.CheckInterval)
	assert.Equal(t, 60*time.Second, c.DetectTimeout)
	assert.Equal(t, 120*time.Second, c.RefreshTimeout)
	assert.Equal(t, 3, c.Retry.Attempts)
	assert.Equal(t, 2*time.Second, c.Retry.Delay)
	assert.Nil(t, c.Schedule)

	config.Supervisor.Schedule = "@hourly"
	c, err = NewConfig(config)
	require.NoError(t, err)
	assert.NotNil(t, c.Schedule)

	config.Supervisor.Schedule = "whenever"
	_, err = NewConfig(config)
	assert.Error(t, err)
}
