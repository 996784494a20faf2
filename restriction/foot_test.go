package restriction

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/legctl"
	"github.com/viamrobotics/hexctl/paramstore"
	"github.com/viamrobotics/hexctl/plan"
	"github.com/viamrobotics/hexctl/signalhub"
)

// stubLeg is a minimal Controller for driving a Foot from tests: it
// records sent plans and lets the test inject telemetry events.
type stubLeg struct {
	legNumber int
	hub       *signalhub.Hub
	plans     []plan.Plan
}

func newStubLeg(legNumber int) *stubLeg {
	return &stubLeg{legNumber: legNumber, hub: signalhub.New()}
}

func (s *stubLeg) LegNumber() int { return s.legNumber }
func (s *stubLeg) SetEstop(legctl.EstopSeverity) error {
	return nil
}
func (s *stubLeg) SendPlan(p plan.Plan) error {
	s.plans = append(s.plans, p)
	return nil
}
func (s *stubLeg) Stop() error                           { return s.SendPlan(plan.NewStop(plan.Leg, 0)) }
func (s *stubLeg) SetPWM(hip, thigh, knee float64) error { return nil }
func (s *stubLeg) EnablePID(bool) error                  { return nil }
func (s *stubLeg) Configure([]legctl.ConfigStep) error   { return nil }
func (s *stubLeg) PIDJointConfig(context.Context, int) (legctl.PIDJointConfig, error) {
	return legctl.PIDJointConfig{}, nil
}
func (s *stubLeg) Update(context.Context) error { return nil }
func (s *stubLeg) On(event string, handler func(any)) signalhub.Token {
	return s.hub.On(event, handler)
}
func (s *stubLeg) Snapshot() legctl.Snapshot { return legctl.Snapshot{} }

func (s *stubLeg) emitAngles(calfLoad float64, valid bool) {
	s.hub.Trigger(legctl.EventAngles, legctl.AnglesSample{
		Time: time.Now(), CalfLoad: calfLoad, Valid: valid,
	})
}

func (s *stubLeg) emitXYZ(pos r3.Vector) {
	s.hub.Trigger(legctl.EventXYZ, legctl.XYZSample{Time: time.Now(), Pos: pos})
}

func newTestFoot(t *testing.T, legNumber int) (*Foot, *stubLeg, *paramstore.Store) {
	t.Helper()
	params := paramstore.New()
	leg := newStubLeg(legNumber)
	engine := testEngine(params)
	f := NewFoot(leg, engine, params, logging.NewTestLogger(t))
	return f, leg, params
}

func TestFootEmitsRestrictionOnEveryXYZ(t *testing.T) {
	f, leg, _ := newTestFoot(t, 1)
	var events []Restriction
	f.On(EventRestriction, func(p any) { events = append(events, p.(Restriction)) })

	leg.emitXYZ(r3.Vector{X: 40, Z: -40})
	leg.emitXYZ(r3.Vector{X: 41, Z: -40})
	assert.Len(t, events, 2)
	assert.NotNil(t, f.Restriction())
}

func TestFootLiftToSwingRequiresHeightAndUnload(t *testing.T) {
	f, leg, _ := newTestFoot(t, 1)
	f.SetTarget(BodyTarget{Translate: true, Speed: 1})
	f.Reset()
	leg.emitXYZ(r3.Vector{X: 40, Z: -40})
	f.SetState(Lift)

	// risen but still loaded: stays in lift
	leg.emitAngles(800, true)
	leg.emitXYZ(r3.Vector{X: 40, Z: -26})
	assert.Equal(t, Lift, f.State())

	// risen past lift_height and unloaded: swings
	leg.emitAngles(100, true)
	leg.emitXYZ(r3.Vector{X: 40, Z: -26})
	assert.Equal(t, Swing, f.State())
}

func TestFootSwingToLowerWithinSlop(t *testing.T) {
	f, leg, params := newTestFoot(t, 1)
	f.SetTarget(BodyTarget{Translate: true, Speed: 1})
	f.Reset()
	leg.emitAngles(100, true)
	leg.emitXYZ(r3.Vector{X: 20, Z: -40})
	f.SetState(Lift)
	leg.emitXYZ(r3.Vector{X: 20, Z: -26})
	assert.Equal(t, Swing, f.State())

	params.Set("res.swing_slop", 5.0)
	target := f.swingTarget()
	target.Z = f.xyz.Z
	leg.emitXYZ(target.Add(r3.Vector{X: 1}))
	assert.Equal(t, Lower, f.State())
}

func TestFootLowerToStanceOnLoad(t *testing.T) {
	f, leg, _ := newTestFoot(t, 1)
	f.SetTarget(BodyTarget{Translate: true, Speed: 1})
	f.Reset()
	f.SetState(Lift)
	f.SetState(Swing)
	f.SetState(Lower)

	leg.emitAngles(100, true)
	leg.emitXYZ(r3.Vector{X: 40, Z: -38})
	assert.Equal(t, Lower, f.State())

	leg.emitAngles(500, true)
	leg.emitXYZ(r3.Vector{X: 40, Z: -40})
	assert.Equal(t, Stance, f.State())
}

func TestFootHaltMovesStanceToWaitAndBack(t *testing.T) {
	f, _, _ := newTestFoot(t, 1)
	f.SetTarget(BodyTarget{Translate: true, Speed: 1})
	f.Reset()
	assert.Equal(t, Stance, f.State())

	f.SetHalt(true)
	assert.Equal(t, Wait, f.State())

	f.SetHalt(false)
	assert.Equal(t, Stance, f.State())
}

func TestFootUnhaltWithZeroTargetStaysWaiting(t *testing.T) {
	f, _, _ := newTestFoot(t, 1)
	f.Reset()
	f.SetHalt(true)
	f.SetHalt(false)
	assert.Equal(t, Wait, f.State())

	// a non-zero target releases it
	f.SetTarget(BodyTarget{Translate: true, Speed: 1})
	assert.Equal(t, Stance, f.State())
}

func TestFootShouldLiftGatedByMinStepSize(t *testing.T) {
	f, leg, params := newTestFoot(t, 1)
	f.SetTarget(BodyTarget{Translate: true, Speed: 1})
	params.Set("res.min_step_size", 6.0)

	// foot sitting at the swing target: no point lifting
	target := f.swingTarget()
	leg.emitXYZ(target)
	assert.False(t, f.ShouldLift())

	leg.emitXYZ(target.Add(r3.Vector{X: -20}))
	assert.True(t, f.ShouldLift())
}

func TestFootRecordsLastLiftTime(t *testing.T) {
	f, _, _ := newTestFoot(t, 1)
	f.SetTarget(BodyTarget{Translate: true, Speed: 1})
	f.Reset()
	assert.True(t, f.LastLiftTime().IsZero())
	f.SetState(Lift)
	assert.False(t, f.LastLiftTime().IsZero())
}

func TestFootInvalidAnglesFlag(t *testing.T) {
	f, leg, _ := newTestFoot(t, 1)
	assert.True(t, f.Valid())
	leg.emitAngles(0, false)
	assert.False(t, f.Valid())
}

func TestFootStancePlanDragsOppositeTravel(t *testing.T) {
	f, leg, _ := newTestFoot(t, 1)
	f.SetTarget(BodyTarget{Translate: true, Speed: 2})
	f.Reset()

	last := leg.plans[len(leg.plans)-1]
	assert.Equal(t, plan.Velocity, last.Mode())
	assert.Equal(t, plan.Leg, last.Frame())
	// body travels +X, so the stance foot drags toward -X (in the
	// leg frame of leg 1 the mapping is identity rotation for yaw 0)
	assert.InDelta(t, -1.0, last.Linear().X, 1e-9)
	assert.Equal(t, 2.0, last.Speed())
}
