package legctl

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/viamrobotics/hexctl/plan"
	"github.com/viamrobotics/hexctl/signalhub"
)

// Controller is the contract shared by the hardware session and the
// simulator; the body coordinator drives either implementation
// identically.
type Controller interface {
	LegNumber() int

	// SetEstop is idempotent: setting the same severity twice emits
	// exactly one estop event (on the first call only).
	SetEstop(severity EstopSeverity) error
	SendPlan(p plan.Plan) error
	Stop() error
	SetPWM(hip, thigh, knee float64) error
	EnablePID(enabled bool) error
	Configure(steps []ConfigStep) error
	PIDJointConfig(ctx context.Context, joint int) (PIDJointConfig, error)

	// Update drives the session forward one step: processes any pending
	// I/O and, for the hardware session, sends a heartbeat if the period
	// has elapsed.
	Update(ctx context.Context) error

	On(event string, handler func(any)) signalhub.Token
	Snapshot() Snapshot
}

// Event names triggered on a Controller's hub.
const (
	EventEstop  = "estop"
	EventPlan   = "plan"
	EventSetPWM = "set_pwm"
	EventADC    = "adc"
	EventPWM    = "pwm"
	EventPID    = "pid"
	EventAngles = "angles"
	EventXYZ    = "xyz"
)

// ErrSeedTimeMismatch is raised when a leg's pid_seed_time disagrees
// with the already-latched process-wide plan tick by more than 1e-9s;
// fatal to startup.
var ErrSeedTimeMismatch = errors.New("legctl: pid_seed_time mismatch against latched PLAN_TICK")

// seedTimeTolerance is the maximum allowed disagreement, in seconds,
// between a newly-connecting leg's pid_seed_time and the already-latched
// PLAN_TICK.
const seedTimeTolerance = 1e-9

// TickLatch owns the process-wide plan tick: the first leg to connect
// sets it (rounded to the nearest millisecond); every subsequent leg
// must report the same value within seedTimeTolerance or setup fails.
// Once latched the value never changes.
type TickLatch struct {
	mu  sync.Mutex
	set bool
	val float64
}

// NewTickLatch returns an unset latch.
func NewTickLatch() *TickLatch { return &TickLatch{} }

// Observe reports seedTime from a connecting leg. On the first call it
// latches the tick as seedTime rounded to the nearest millisecond; on
// later calls it validates agreement and returns ErrSeedTimeMismatch on
// disagreement. It always returns the (possibly just-latched) tick.
func (l *TickLatch) Observe(seedTime float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.set {
		l.val = roundToMillisecond(seedTime)
		l.set = true
		return l.val, nil
	}
	if absFloat(seedTime-l.val) > seedTimeTolerance {
		return l.val, errors.Wrapf(
			ErrSeedTimeMismatch, "seed_time=%v latched=%v", seedTime, l.val)
	}
	return l.val, nil
}

// Value returns the latched tick, or 0 and false if unset.
func (l *TickLatch) Value() (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.set
}

func roundToMillisecond(v float64) float64 {
	const ms = 0.001
	return float64(round(v/ms)) * ms
}

func round(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return int64(v - 0.5)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
