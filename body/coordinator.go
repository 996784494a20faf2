// Package body arbitrates the gait across all six feet: it watches each
// foot's restriction, decides which foot may leave the ground, and
// halts or resumes lateral body motion when a foot runs out of
// workspace.
package body

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/kinematics/geometry"
	"github.com/viamrobotics/hexctl/legctl"
	"github.com/viamrobotics/hexctl/paramstore"
	"github.com/viamrobotics/hexctl/restriction"
	"github.com/viamrobotics/hexctl/signalhub"
)

// BodyTarget aliases the restriction package's target type; the
// coordinator is its natural owner, feet only consume it.
type BodyTarget = restriction.BodyTarget

// defaultParameters seeds the res.* namespace of the shared store.
// Every value hot-reloads.
var defaultParameters = map[string]float64{
	"speed_by_restriction": 0,

	"r_thresh":    0.4,
	"r_max":       0.8,
	"max_feet_up": 1,
	"height_slop": 3.0,

	"fields.joint_angle.eps":        0.3,
	"fields.joint_angle.range":      0.9,
	"fields.joint_angle.inflection": 0.4,

	"fields.calf_angle.eps":        0.3,
	"fields.calf_angle.inflection": 0.4,
	"fields.calf_angle.max":        30,

	"fields.min_hip.eps":    0.15,
	"fields.min_hip.buffer": 10.0,

	"fields.center.eps":        0.1,
	"fields.center.inflection": 5.0,
	"fields.center.radius":     30.0,

	"target_calf_angle": 10.0,

	"lift_height":  12.0,
	"lower_height": -40.0,

	"min_lower_height": -70,
	"max_lower_height": -40,

	"unloaded_weight": 600.0,
	"loaded_weight":   400.0,

	"swing_slop":    5.0,
	"step_ratio":    0.6,
	"min_step_size": 6.0,
}

// Event names triggered on the coordinator's hub.
const (
	EventHalt = "halt"
)

// Coordinator is the body-level gait state machine. It is driven
// entirely by per-foot restriction events: on each one it advances the
// odometer, arbitrates halt/unhalt, and grants or denies lift
// permission under the max-feet-up and neighbor-exclusion rules.
type Coordinator struct {
	logger logging.Logger
	params *paramstore.Store
	hub    *signalhub.Hub

	legs      map[int]legctl.Controller
	feet      map[int]*restriction.Foot
	neighbors map[int][]int
	offline   map[int]bool

	odo       *Odometer
	halted    bool
	enabled   bool
	target    BodyTarget
	hasTarget bool
}

// NewCoordinator builds feet over the given leg controllers, seeds the
// res.* parameter namespace, computes cyclic neighbor adjacency, and
// starts disabled.
func NewCoordinator(
	legs map[int]legctl.Controller, params *paramstore.Store, logger logging.Logger,
) *Coordinator {
	params.SetDefaults("res", defaultParameters)
	params.SetMeta("res.max_feet_up", paramstore.Meta{Min: 0, Max: 3})

	b := &Coordinator{
		logger:    logger,
		params:    params,
		hub:       signalhub.New(),
		legs:      legs,
		feet:      make(map[int]*restriction.Foot),
		neighbors: neighborsOf(legNumbers(legs)),
		offline:   make(map[int]bool),
		odo:       NewOdometer(),
	}
	for _, ln := range legNumbers(legs) {
		leg := legs[ln]
		engine := restriction.NewEngine(ln, geometryOf(leg), params)
		foot := restriction.NewFoot(leg, engine, params, logger)
		b.feet[ln] = foot
		ln := ln
		foot.On(restriction.EventRestriction, func(payload any) {
			b.onRestriction(payload.(restriction.Restriction), ln)
		})
		leg.On(legctl.EventEstop, func(payload any) {
			b.onEstop(payload.(legctl.EstopSeverity), ln)
		})
	}
	b.Disable()
	return b
}

// geometryOf recovers the leg's joint geometry when the controller
// carries one; the simulator and hardware session both do.
func geometryOf(leg legctl.Controller) geometry.LegGeometry {
	type geomCarrier interface{ Geometry() geometry.LegGeometry }
	if g, ok := leg.(geomCarrier); ok {
		return g.Geometry()
	}
	return geometry.LegGeometry{}
}

func legNumbers(legs map[int]legctl.Controller) []int {
	inds := make([]int, 0, len(legs))
	for ln := range legs {
		inds = append(inds, ln)
	}
	sort.Ints(inds)
	return inds
}

// neighborsOf maps each leg to its two cyclically adjacent legs in
// sorted order, wrapping at the ends.
func neighborsOf(inds []int) map[int][]int {
	n := make(map[int][]int)
	if len(inds) < 2 {
		return n
	}
	for i, ln := range inds {
		prev := inds[(i-1+len(inds))%len(inds)]
		next := inds[(i+1)%len(inds)]
		n[ln] = []int{prev, next}
	}
	return n
}

// On subscribes to coordinator events (halt).
func (b *Coordinator) On(event string, handler func(any)) signalhub.Token {
	return b.hub.On(event, handler)
}

func (b *Coordinator) Halted() bool  { return b.halted }
func (b *Coordinator) Enabled() bool { return b.enabled }

// Foot exposes one foot read-only, for tests and operator displays.
func (b *Coordinator) Foot(legNumber int) *restriction.Foot { return b.feet[legNumber] }

// Odometer exposes the traveled-pose estimate.
func (b *Coordinator) Odometer() *Odometer { return b.odo }

// Enable starts the gait: feet reset to stance, the halt clears, the
// odometer restarts.
func (b *Coordinator) Enable() {
	b.logger.Debugf("body: enable")
	b.enabled = true
	b.SetHalt(false)
	b.odo.Reset()
	for _, ln := range b.footNumbers() {
		b.feet[ln].Reset()
	}
}

// Disable drops every foot out of the gait.
func (b *Coordinator) Disable() {
	b.logger.Debugf("body: disable")
	b.enabled = false
	for _, ln := range b.footNumbers() {
		b.feet[ln].Disable()
	}
}

// SetHalt pauses (or resumes) lateral motion on every foot and the
// odometer.
func (b *Coordinator) SetHalt(value bool) {
	b.halted = value
	for _, ln := range b.footNumbers() {
		b.feet[ln].SetHalt(value)
	}
	b.odo.Enabled = !value
	b.hub.Trigger(EventHalt, value)
}

// SetTarget broadcasts a new body target to every foot, optionally
// scaling stance speed by the worst current restriction.
func (b *Coordinator) SetTarget(target BodyTarget) {
	b.target = target
	b.hasTarget = true
	b.odo.SetTarget(target)

	broadcast := target
	if b.params.Get("res.speed_by_restriction", 0) != 0 {
		broadcast.Speed *= b.speedByRestriction()
	}
	for _, ln := range b.footNumbers() {
		b.feet[ln].SetTarget(broadcast)
	}
}

// speedByRestriction is the stance speed scale: 1 with all feet clear,
// approaching 0 as the most restricted foot not in swing or lower nears
// its limit.
func (b *Coordinator) speedByRestriction() float64 {
	maxR := 0.0
	for _, f := range b.feet {
		if f.State() == restriction.Swing || f.State() == restriction.Lower {
			continue
		}
		if r := f.Restriction(); r != nil && r.R > maxR {
			maxR = r.R
		}
	}
	s := 1 - maxR
	if s < 0 {
		return 0
	}
	return s
}

func (b *Coordinator) footNumbers() []int {
	inds := make([]int, 0, len(b.feet))
	for ln := range b.feet {
		inds = append(inds, ln)
	}
	sort.Ints(inds)
	return inds
}

// onEstop reacts to a leg's e-stop: anything sticky is safety-grade and
// halts the whole body until an operator intervenes.
func (b *Coordinator) onEstop(severity legctl.EstopSeverity, legNumber int) {
	if !severity.RequiresExplicitClear() {
		return
	}
	b.logger.Warnf("body: leg %d estop %s, halting", legNumber, severity)
	if b.enabled && !b.halted {
		b.SetHalt(true)
	}
}

// MarkOffline records a leg whose session died. Transport loss is fatal
// to that leg and halts the body.
func (b *Coordinator) MarkOffline(legNumber int) {
	if b.offline[legNumber] {
		return
	}
	b.logger.Warnf("body: leg %d offline, halting", legNumber)
	b.offline[legNumber] = true
	if b.enabled && !b.halted {
		b.SetHalt(true)
	}
}

// Update polls every leg controller once; this is one iteration of the
// single-threaded cooperative loop. A transport failure marks that leg
// offline rather than aborting the loop.
func (b *Coordinator) Update(ctx context.Context) error {
	for _, ln := range b.footNumbers() {
		if b.offline[ln] {
			continue
		}
		if err := b.legs[ln].Update(ctx); err != nil {
			if errors.Is(err, legctl.ErrTransport) {
				b.MarkOffline(ln)
				continue
			}
			return err
		}
	}
	return nil
}

// onRestriction is the heart of the gait: called on every foot's
// restriction event, in arrival order, and correct for any interleaving
// because it only reads this foot's fields plus a snapshot of peer
// states.
func (b *Coordinator) onRestriction(res restriction.Restriction, legNumber int) {
	if !b.enabled {
		return
	}
	b.odo.Update()

	foot := b.feet[legNumber]
	// a foot with invalid joint data is frozen: no transitions are
	// driven by or granted to it
	if !foot.Valid() {
		return
	}
	rMax := b.params.Get("res.r_max", 0.8)

	if b.halted && b.unhaltCandidate(res, foot) {
		if b.everyFootClear(rMax) {
			b.logger.Debugf("body: unhalt (leg %d cleared)", legNumber)
			b.SetHalt(false)
			return
		}
	}

	if res.R > rMax && !b.halted && !pausedState(foot.State()) && res.NR >= res.R {
		b.logger.Debugf("body: halt (leg %d r=%.2f nr=%.2f)", legNumber, res.R, res.NR)
		b.SetHalt(true)
		return
	}

	if res.R > b.params.Get("res.r_thresh", 0.4) && foot.State() == restriction.Stance {
		b.arbitrateLift(legNumber)
	}
}

// pausedState reports the phases exempt from halt arbitration: a
// waiting foot is already stopped and an airborne foot must finish its
// step.
func pausedState(s restriction.State) bool {
	return s == restriction.Wait || s == restriction.Swing || s == restriction.Lower
}

// unhaltCandidate reports whether this event may even argue for an
// unhalt: the reporting foot is clear, paused, or moving toward a less
// restricted position.
func (b *Coordinator) unhaltCandidate(res restriction.Restriction, foot *restriction.Foot) bool {
	return res.R < b.params.Get("res.r_max", 0.8) ||
		pausedState(foot.State()) ||
		res.NR < res.R
}

// everyFootClear is the unhalt condition proper: every foot not in
// swing, lower, or wait either sits under r_max or is headed somewhere
// less restricted.
func (b *Coordinator) everyFootClear(rMax float64) bool {
	for _, f := range b.feet {
		if pausedState(f.State()) {
			continue
		}
		r := f.Restriction()
		if r == nil {
			continue
		}
		if r.NR < r.R {
			continue
		}
		if r.R > rMax {
			return false
		}
	}
	return true
}

// arbitrateLift decides whether legNumber may leave the ground:
// neighbor exclusion, the max-feet-up cap, and least-recently-lifted
// priority among all restricted grounded (stance or wait) feet.
func (b *Coordinator) arbitrateLift(legNumber int) {
	states := make(map[int]restriction.State, len(b.feet))
	for ln, f := range b.feet {
		states[ln] = f.State()
	}
	grounded := func(s restriction.State) bool {
		return s == restriction.Stance || s == restriction.Wait
	}

	nUp := 0
	for _, s := range states {
		if !grounded(s) {
			nUp++
		}
	}

	ns, ok := b.neighbors[legNumber]
	if !ok {
		return
	}
	for _, n := range ns {
		if !grounded(states[n]) {
			return
		}
	}

	maxFeetUp := int(b.params.Get("res.max_feet_up", 1))
	if nUp >= maxFeetUp {
		return
	}
	nCanLift := maxFeetUp - nUp

	// every restricted grounded foot competes; the least recently
	// lifted get the available slots
	rThresh := b.params.Get("res.r_thresh", 0.4)
	type candidate struct {
		legNumber int
		liftTime  time.Time
	}
	candidates := []candidate{{legNumber, b.feet[legNumber].LastLiftTime()}}
	for ln, f := range b.feet {
		if ln == legNumber || !grounded(states[ln]) || !f.Valid() {
			continue
		}
		if r := f.Restriction(); r != nil && r.R > rThresh {
			candidates = append(candidates, candidate{ln, f.LastLiftTime()})
		}
	}
	if len(candidates) > nCanLift {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].liftTime.Equal(candidates[j].liftTime) {
				return candidates[i].legNumber < candidates[j].legNumber
			}
			return candidates[i].liftTime.Before(candidates[j].liftTime)
		})
		inSlots := false
		for _, c := range candidates[:nCanLift] {
			if c.legNumber == legNumber {
				inSlots = true
			}
		}
		if !inSlots {
			return
		}
	}
	if b.feet[legNumber].ShouldLift() {
		b.feet[legNumber].SetState(restriction.Lift)
	}
}
