// Package supervisor keeps the API server running and triggers a refresh
// whenever the change detector reports new data.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/interfaces"
	"github.com/ternarybob/stockfeed/internal/models"
)

// Subcommands spawned by the supervisor
const (
	CommandDetect  = "detect"
	CommandRefresh = "refresh"
	CommandServe   = "serve"
)

// State is the supervisor lifecycle phase
type State string

const (
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateChecking State = "CHECKING"
	StateStopping State = "STOPPING"
)

// ErrStartup means no data could be prepared before the first API launch
var ErrStartup = errors.New("startup refresh failed")

var (
	errDetectTimeout      = errors.New("detector timed out")
	errDetectReportsError = errors.New("detector reported ERROR")
	errDetectUnrecognized = errors.New("detector output not recognized")
)

// stderrKeywords mark child stderr worth escalating to error level
var stderrKeywords = []string{"Error:", "Exception:", "Traceback", "panic:"}

// Config holds the supervisor timings
type Config struct {
	CheckInterval  time.Duration
	Schedule       cron.Schedule // Replaces CheckInterval when set
	DetectTimeout  time.Duration
	RefreshTimeout time.Duration
	Retry          common.RetryPolicy
	StopTimeout    time.Duration
	Retention      int // Run records kept in history, 0 keeps all
}

// NewConfig builds a Config from the application configuration
func NewConfig(config *common.Config) (Config, error) {
	sc := config.Supervisor
	c := Config{
		CheckInterval:  sc.CheckIntervalDuration(),
		DetectTimeout:  common.ParseDurationOr(sc.DetectTimeout, 60*time.Second),
		RefreshTimeout: common.ParseDurationOr(sc.RefreshTimeout, 120*time.Second),
		Retry:          common.NewRetryPolicy(sc.RetryAttempts, sc.RetryDelay),
		StopTimeout:    10 * time.Second,
		Retention:      config.Storage.Badger.Retention,
	}
	if sc.Schedule != "" {
		schedule, err := common.ParseCheckSchedule(sc.Schedule)
		if err != nil {
			return Config{}, err
		}
		c.Schedule = schedule
	}
	return c, nil
}

// Supervisor runs the startup sequence and then the check loop
type Supervisor struct {
	config Config
	runner Runner
	prober Prober
	runs   interfaces.RunStorage // optional
	clock  clock.Clock
	logger arbor.ILogger

	mu    sync.Mutex
	state State
	api   Process // nil when the API was adopted rather than spawned
}

// New creates a Supervisor. runs may be nil to disable run history.
func New(config Config, runner Runner, prober Prober, runs interfaces.RunStorage, clk clock.Clock, logger arbor.ILogger) *Supervisor {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Supervisor{
		config: config,
		runner: runner,
		prober: prober,
		runs:   runs,
		clock:  clk,
		logger: logger,
		state:  StateStarting,
	}
}

// State returns the current lifecycle phase
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug().Str("state", string(state)).Msg("Supervisor state changed")
}

// Run starts up, then checks for changes until ctx is cancelled. It
// returns an error only when startup fails; cancellation stops the API
// child and returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	for {
		s.setState(StateRunning)

		wait := s.NextWait(s.clock.Now())
		s.logger.Info().Str("wait", wait.String()).Msg("Waiting for next check")

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Supervisor interrupted")
			return nil
		case <-s.clock.After(wait):
		}

		s.Cycle(ctx)
	}
}

// NextWait returns how long to sleep before the check following now
func (s *Supervisor) NextWait(now time.Time) time.Duration {
	if s.config.Schedule != nil {
		if wait := s.config.Schedule.Next(now).Sub(now); wait > 0 {
			return wait
		}
	}
	return s.config.CheckInterval
}

// Start adopts an API server already listening on the port, or refreshes
// the data and spawns one. A failed startup refresh returns ErrStartup.
func (s *Supervisor) Start(ctx context.Context) error {
	s.setState(StateStarting)
	run := s.newRun(models.RunKindStartup)
	defer s.saveRun(ctx, run)

	probe := s.prober.Probe(ctx)
	if probe.Listening {
		run.APIAdopted = true
		if !probe.Healthy {
			s.logger.Warn().Err(probe.Err).Msg("Port in use but health check failed, adopting anyway")
		} else {
			s.logger.Info().Msg("API server already running, adopting it")
		}
		return nil
	}

	s.logger.Info().Msg("API server not running, refreshing data before launch")
	run.Refreshed = true
	if err := s.refresh(ctx); err != nil {
		run.Error = err.Error()
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	run.RefreshOK = true

	if err := s.spawnAPI(); err != nil {
		run.Error = err.Error()
		return err
	}
	return nil
}

// Cycle runs one check: respawn a dead API child, run the detector and
// refresh when it reports a change. Failures are logged, never returned.
func (s *Supervisor) Cycle(ctx context.Context) *models.RunRecord {
	run := s.newRun(models.RunKindCheck)
	defer s.saveRun(ctx, run)

	if s.apiExited() {
		s.logger.Warn().Msg("API server exited, restarting")
		if err := s.spawnAPI(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to restart API server")
			run.Error = err.Error()
		} else {
			run.APIRestarted = true
		}
	}

	s.setState(StateChecking)
	signal, attempts := s.detect(ctx)
	run.Detection = signal
	run.Attempts = attempts

	if signal != models.SignalChanged {
		return run
	}

	s.logger.Info().Msg("Data changed, refreshing")
	run.Refreshed = true
	if err := s.refresh(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Refresh failed, keeping previous snapshots")
		if run.Error == "" {
			run.Error = err.Error()
		}
		return run
	}
	run.RefreshOK = true
	return run
}

// detect runs the detector under the retry policy. Anything but a clean
// YES_CHANGED or NO_CHANGED after the last attempt degrades to NO_CHANGED.
func (s *Supervisor) detect(ctx context.Context) (models.Signal, int) {
	var (
		signal   models.Signal
		attempts int
	)

	err := s.config.Retry.Do(ctx, s.clock, func(attempt int) error {
		attempts = attempt
		out := s.runner.Run(ctx, s.config.DetectTimeout, CommandDetect)
		s.reportStderr(CommandDetect, out.Stderr)

		if out.TimedOut {
			return fmt.Errorf("%w after %s", errDetectTimeout, s.config.DetectTimeout)
		}
		if out.Err != nil {
			return fmt.Errorf("failed to run detector: %w", out.Err)
		}

		parsed, ok := models.ParseSignal(out.Stdout)
		switch {
		case !ok:
			return fmt.Errorf("%w: %q", errDetectUnrecognized, strings.TrimSpace(out.Stdout))
		case parsed == models.SignalError:
			return errDetectReportsError
		}
		signal = parsed
		return nil
	}, func(err error, attempt int) {
		s.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", s.config.Retry.Attempts).Msg("Change detection attempt failed")
	})

	if err != nil {
		s.logger.Error().Err(err).Int("attempts", attempts).Msg("Change detection failed, assuming no change")
		return models.SignalUnchanged, attempts
	}

	s.logger.Info().Str("signal", signal.String()).Int("attempts", attempts).Msg("Change detection complete")
	return signal, attempts
}

// refresh runs the refresher under the retry policy
func (s *Supervisor) refresh(ctx context.Context) error {
	return s.config.Retry.Do(ctx, s.clock, func(attempt int) error {
		out := s.runner.Run(ctx, s.config.RefreshTimeout, CommandRefresh)
		s.reportStderr(CommandRefresh, out.Stderr)

		switch {
		case out.TimedOut:
			return fmt.Errorf("refresh timed out after %s", s.config.RefreshTimeout)
		case out.Err != nil:
			return fmt.Errorf("failed to run refresh: %w", out.Err)
		case out.ExitCode != 0:
			return fmt.Errorf("refresh exited with code %d", out.ExitCode)
		}

		s.logger.Info().Int("attempt", attempt).Msg("Refresh succeeded")
		return nil
	}, func(err error, attempt int) {
		s.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", s.config.Retry.Attempts).Msg("Refresh attempt failed")
	})
}

// reportStderr logs child stderr, at error level only when it looks like a failure
func (s *Supervisor) reportStderr(subcommand, stderr string) {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return
	}
	for _, keyword := range stderrKeywords {
		if strings.Contains(stderr, keyword) {
			s.logger.Error().Str("command", subcommand).Str("stderr", stderr).Msg("Subprocess reported an error")
			return
		}
	}
	s.logger.Debug().Str("command", subcommand).Str("stderr", stderr).Msg("Subprocess stderr")
}

func (s *Supervisor) spawnAPI() error {
	process, err := s.runner.Start(CommandServe)
	if err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	s.mu.Lock()
	s.api = process
	s.mu.Unlock()

	s.logger.Info().Int("pid", process.Pid()).Msg("API server started")
	return nil
}

func (s *Supervisor) apiExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api != nil && s.api.Exited()
}

// Stop terminates a spawned API child. An adopted API is left running.
func (s *Supervisor) Stop() {
	s.setState(StateStopping)

	s.mu.Lock()
	api := s.api
	s.api = nil
	s.mu.Unlock()

	if api == nil {
		return
	}

	s.logger.Info().Int("pid", api.Pid()).Msg("Stopping API server")
	if err := api.Terminate(s.config.StopTimeout); err != nil {
		s.logger.Error().Err(err).Int("pid", api.Pid()).Msg("Failed to stop API server")
	}
}

func (s *Supervisor) newRun(kind models.RunKind) *models.RunRecord {
	return &models.RunRecord{
		ID:        common.NewRunID(),
		Kind:      kind,
		StartedAt: s.clock.Now(),
	}
}

// saveRun records a finished cycle; history failures never stop the loop
func (s *Supervisor) saveRun(ctx context.Context, run *models.RunRecord) {
	run.FinishedAt = s.clock.Now()
	if s.runs == nil {
		return
	}

	// a cancelled ctx must not lose the record of the interrupted cycle
	saveCtx := context.WithoutCancel(ctx)
	if err := s.runs.SaveRun(saveCtx, run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to save run record")
		return
	}
	if _, err := s.runs.Prune(saveCtx, s.config.Retention); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to prune run history")
	}
}
