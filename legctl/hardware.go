package legctl

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/kinematics/geometry"
	"github.com/viamrobotics/hexctl/plan"
	"github.com/viamrobotics/hexctl/signalhub"
	"github.com/viamrobotics/hexctl/wire"
)

// ErrTransport wraps failures of the serial layer itself (open failure,
// read/write error). Transport errors are fatal to that leg's session;
// the body coordinator marks the leg offline and halts.
var ErrTransport = errors.New("legctl: serial transport failure")

// openRetryWindow bounds the open-port retry loop before declaring an
// I/O failure.
const openRetryWindow = 5 * time.Second

// defaultQueryTimeout bounds each blocking firmware query during setup
// and explicit configuration reads.
const defaultQueryTimeout = 2 * time.Second

// SerialPort is the slice of go.bug.st/serial.Port the hardware session
// needs: byte stream, bounded reads, RTS control for the firmware reset,
// and buffer flushing.
type SerialPort interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	SetRTS(level bool) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Close() error
}

// HardwareOptions configures a hardware session beyond its port path.
type HardwareOptions struct {
	// Geometry is the per-joint mechanical description uploaded to
	// firmware during setup (9 parameters x 3 joints).
	Geometry geometry.LegGeometry

	// Calibration holds pre-configured setup steps replayed to the leg
	// once its identity is known, keyed by leg number.
	Calibration map[int][]ConfigStep

	// Latch is the shared process-wide PLAN_TICK owner. Required; the
	// first leg to connect sets the tick, later legs must agree.
	Latch *TickLatch

	// Framer overrides the wire framing layer; nil uses the default.
	Framer wire.Framer

	// QueryTimeout bounds each blocking firmware query; zero uses
	// defaultQueryTimeout.
	QueryTimeout time.Duration
}

// HardwareController is a session with one leg's microcontroller over a
// serial port: framed command traffic out, telemetry reports in, and a
// heartbeat keeping firmware's liveness watchdog fed.
var _ Controller = (*HardwareController)(nil)

type HardwareController struct {
	legNumber int
	port      SerialPort
	session   *wire.Session
	opts      HardwareOptions
	logger    logging.Logger
	hub       *signalhub.Hub

	planTick float64
	estop    EstopSeverity
	estopSet bool

	lastHeartbeat time.Time

	snapshot Snapshot
}

// NewHardwareController opens port at 9600 baud 8N1 (retrying for up to
// five seconds), resets the microcontroller via an RTS toggle, and runs
// the full setup sequence: identity query, calibration replay, geometry
// upload, telemetry subscription, default e-stop, seed-time validation,
// and the first heartbeat.
func NewHardwareController(
	ctx context.Context, portPath string, opts HardwareOptions, logger logging.Logger,
) (*HardwareController, error) {
	port, err := openPort(ctx, portPath)
	if err != nil {
		return nil, err
	}
	logger.Infof("legctl: connected to microcontroller on %s", portPath)

	// Rising edge of RTS resets the microcontroller; flush anything
	// queued from before the reset.
	if err := port.SetRTS(false); err != nil {
		return nil, errors.Wrap(ErrTransport, err.Error())
	}
	_ = port.ResetInputBuffer()
	_ = port.ResetOutputBuffer()
	if err := port.SetRTS(true); err != nil {
		return nil, errors.Wrap(ErrTransport, err.Error())
	}

	return NewHardwareControllerFromPort(ctx, port, opts, logger)
}

// NewHardwareControllerFromPort runs the setup sequence over an
// already-open, already-reset port. Split out from NewHardwareController
// so discovery probes and tests can drive a session over their own
// transport.
func NewHardwareControllerFromPort(
	ctx context.Context, port SerialPort, opts HardwareOptions, logger logging.Logger,
) (*HardwareController, error) {
	c := &HardwareController{
		port:    port,
		session: wire.NewSession(port, opts.Framer, logger),
		opts:    opts,
		logger:  logger,
		hub:     signalhub.New(),
	}
	if c.opts.QueryTimeout == 0 {
		c.opts.QueryTimeout = defaultQueryTimeout
	}

	// Identity first: everything after this is addressed knowledge of
	// which physical leg is on the wire.
	resp, err := c.blockingQuery(ctx, wire.LegNumber, 0)
	if err != nil {
		return nil, errors.Wrap(err, "legctl: leg_number query")
	}
	c.legNumber = int(resp.Values[0])
	logger.Infof("legctl: port carries leg %d (%s)", c.legNumber, LegName(c.legNumber))

	c.session.SetTextHandler(func(txt string) {
		logger.Debugf("legctl: firmware[%d]: %s", c.legNumber, txt)
	})

	if err := c.Configure(opts.Calibration[c.legNumber]); err != nil {
		return nil, err
	}
	if err := c.uploadGeometry(); err != nil {
		return nil, err
	}

	c.subscribeReports()
	c.session.On(wire.Estop, func(r wire.Response) {
		// Firmware-originated e-stop is adopted locally, never echoed
		// back.
		c.adoptEstop(EstopSeverity(r.Values[0]))
	})

	if err := c.SetEstop(Hard); err != nil {
		return nil, err
	}

	resp, err = c.blockingQuery(ctx, wire.PIDSeedTime)
	if err != nil {
		return nil, errors.Wrap(err, "legctl: pid_seed_time query")
	}
	tick, err := opts.Latch.Observe(resp.Values[0])
	if err != nil {
		return nil, errors.Wrapf(err, "leg %d", c.legNumber)
	}
	c.planTick = tick

	if err := c.session.Trigger(wire.Heartbeat); err != nil {
		return nil, errors.Wrap(ErrTransport, err.Error())
	}
	c.lastHeartbeat = time.Now()
	return c, nil
}

func openPort(ctx context.Context, portPath string) (SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	deadline := time.Now().Add(openRetryWindow)
	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		port, err := serial.Open(portPath, mode)
		if err == nil {
			return port, nil
		}
		lastErr = err
		time.Sleep(10 * time.Millisecond)
	}
	return nil, errors.Wrapf(ErrTransport, "open %s: %v", portPath, lastErr)
}

func (c *HardwareController) blockingQuery(
	ctx context.Context, cmd wire.CommandID, args ...float64,
) (wire.Response, error) {
	qctx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
	defer cancel()
	return c.session.BlockingTrigger(qctx, cmd, args...)
}

func (c *HardwareController) uploadGeometry() error {
	for ji := 0; ji < geometry.NumJoints; ji++ {
		params := c.opts.Geometry[ji].Params()
		for code, value := range params {
			err := c.session.Trigger(
				wire.SetGeometry, float64(ji), float64(code), value)
			if err != nil {
				return errors.Wrap(ErrTransport, err.Error())
			}
		}
	}
	return nil
}

func (c *HardwareController) subscribeReports() {
	c.session.On(wire.ReportADC, func(r wire.Response) {
		c.snapshot.ADC = ADCSample{
			Time: time.Now(),
			Hip:  r.Values[0], Thigh: r.Values[1],
			Knee: r.Values[2], Calf: r.Values[3],
		}
		c.hub.Trigger(EventADC, c.snapshot.ADC)
	})
	c.session.On(wire.ReportXYZ, func(r wire.Response) {
		c.snapshot.XYZ = XYZSample{Time: time.Now()}
		c.snapshot.XYZ.Pos.X = r.Values[0]
		c.snapshot.XYZ.Pos.Y = r.Values[1]
		c.snapshot.XYZ.Pos.Z = r.Values[2]
		c.hub.Trigger(EventXYZ, c.snapshot.XYZ)
	})
	c.session.On(wire.ReportAngles, func(r wire.Response) {
		c.snapshot.Angles = AnglesSample{
			Time: time.Now(),
			Hip:  r.Values[0], Thigh: r.Values[1], Knee: r.Values[2],
			CalfLoad: r.Values[3],
			Valid:    r.Values[4] != 0,
		}
		c.hub.Trigger(EventAngles, c.snapshot.Angles)
	})
	c.session.On(wire.ReportPID, func(r wire.Response) {
		c.snapshot.PID = PIDSample{
			Time:     time.Now(),
			Output:   JointTriplet{r.Values[0], r.Values[1], r.Values[2]},
			SetPoint: JointTriplet{r.Values[3], r.Values[4], r.Values[5]},
			Error:    JointTriplet{r.Values[6], r.Values[7], r.Values[8]},
		}
		c.hub.Trigger(EventPID, c.snapshot.PID)
	})
	c.session.On(wire.ReportPWM, func(r wire.Response) {
		c.snapshot.PWM = PWMSample{
			Time: time.Now(),
			Hip:  r.Values[0], Thigh: r.Values[1], Knee: r.Values[2],
		}
		c.hub.Trigger(EventPWM, c.snapshot.PWM)
	})
	c.session.On(wire.ReportLoopTime, func(r wire.Response) {
		c.logger.Debugf("legctl: leg %d loop time %v", c.legNumber, r.Values[0])
	})
}

func (c *HardwareController) LegNumber() int { return c.legNumber }

// Geometry returns the joint geometry uploaded to this leg at setup.
func (c *HardwareController) Geometry() geometry.LegGeometry { return c.opts.Geometry }

// PlanTick returns the firmware's closed-loop quantum as validated
// against the shared latch at setup.
func (c *HardwareController) PlanTick() float64 { return c.planTick }

// SetEstop forwards severity to firmware and adopts it locally,
// emitting exactly one estop event per actual change.
func (c *HardwareController) SetEstop(severity EstopSeverity) error {
	if err := c.session.Trigger(wire.Estop, float64(severity)); err != nil {
		return errors.Wrap(ErrTransport, err.Error())
	}
	c.adoptEstop(severity)
	return nil
}

func (c *HardwareController) adoptEstop(severity EstopSeverity) {
	if c.estopSet && severity == c.estop {
		return
	}
	c.estop = severity
	c.estopSet = true
	c.logger.Infof("legctl: leg %d estop %s", c.legNumber, severity)
	c.hub.Trigger(EventEstop, severity)
}

func (c *HardwareController) Estop() EstopSeverity { return c.estop }

// SendPlan packs p addressed to this leg and transmits it. The plan
// payload on the wire is fixed-width; modes that use fewer scalars
// transmit zero in the unused trailing fields.
func (c *HardwareController) SendPlan(p plan.Plan) error {
	packed := p.Pack(c.legNumber)
	args := make([]float64, 19)
	copy(args, packed)
	if err := c.session.Trigger(wire.PlanCmd, args...); err != nil {
		return errors.Wrap(ErrTransport, err.Error())
	}
	c.hub.Trigger(EventPlan, p.ToLegFrame(c.legNumber))
	return nil
}

func (c *HardwareController) Stop() error {
	return c.SendPlan(plan.NewStop(plan.Leg, 0))
}

func (c *HardwareController) SetPWM(hip, thigh, knee float64) error {
	if c.estop == Off {
		return ErrPWMRequiresEstop
	}
	if err := c.session.Trigger(wire.PWM, hip, thigh, knee); err != nil {
		return errors.Wrap(ErrTransport, err.Error())
	}
	c.hub.Trigger(EventSetPWM, [3]float64{hip, thigh, knee})
	return nil
}

func (c *HardwareController) EnablePID(enabled bool) error {
	v := 0.0
	if enabled {
		v = 1.0
	}
	if err := c.session.Trigger(wire.EnablePID, v); err != nil {
		return errors.Wrap(ErrTransport, err.Error())
	}
	return nil
}

// Configure replays a batch of (command-name, args) setup steps.
func (c *HardwareController) Configure(steps []ConfigStep) error {
	for _, step := range steps {
		cmd, ok := commandByName(step.Name)
		if !ok {
			return errors.Errorf("legctl: unknown configure command %q", step.Name)
		}
		c.logger.Debugf("legctl: leg %d configure %s%v", c.legNumber, step.Name, step.Args)
		if err := c.session.Trigger(cmd, step.Args...); err != nil {
			return errors.Wrap(ErrTransport, err.Error())
		}
	}
	return nil
}

func commandByName(name string) (wire.CommandID, bool) {
	for id, sig := range wire.Table {
		if sig.Name == name {
			return id, true
		}
	}
	return 0, false
}

// PIDJointConfig runs the blocking aggregate query for one joint: PID
// gains, following-error threshold, PWM limits, ADC bounds, and dither.
func (c *HardwareController) PIDJointConfig(ctx context.Context, joint int) (PIDJointConfig, error) {
	var cfg PIDJointConfig
	r, err := c.blockingQuery(ctx, wire.PIDConfig, float64(joint), 0, 0, 0, 0, 0)
	if err != nil {
		return cfg, err
	}
	cfg.PID = PIDGains{
		P: r.Values[1], I: r.Values[2], D: r.Values[3],
		Min: r.Values[4], Max: r.Values[5],
	}
	r, err = c.blockingQuery(ctx, wire.FollowingErrorThreshold, float64(joint), 0)
	if err != nil {
		return cfg, err
	}
	cfg.FollowingErrorThreshold = r.Values[1]
	r, err = c.blockingQuery(ctx, wire.PWMLimits, float64(joint), 0, 0, 0, 0)
	if err != nil {
		return cfg, err
	}
	cfg.PWM = PWMLimits{
		ExtendMin: r.Values[1], ExtendMax: r.Values[2],
		RetractMin: r.Values[3], RetractMax: r.Values[4],
	}
	r, err = c.blockingQuery(ctx, wire.ADCLimits, float64(joint), 0, 0)
	if err != nil {
		return cfg, err
	}
	cfg.ADC = ADCBounds{Min: r.Values[1], Max: r.Values[2]}
	r, err = c.blockingQuery(ctx, wire.Dither, 0, 0)
	if err != nil {
		return cfg, err
	}
	cfg.Dither = Dither{Time: r.Values[0], Amp: r.Values[1]}
	return cfg, nil
}

// Update drains pending frames from the wire and sends a heartbeat if
// the period has elapsed.
func (c *HardwareController) Update(ctx context.Context) error {
	if err := c.session.Update(ctx); err != nil {
		return err
	}
	if time.Since(c.lastHeartbeat).Seconds() >= HeartbeatPeriod {
		if err := c.session.Trigger(wire.Heartbeat); err != nil {
			return errors.Wrap(ErrTransport, err.Error())
		}
		c.lastHeartbeat = time.Now()
	}
	return nil
}

func (c *HardwareController) On(event string, handler func(any)) signalhub.Token {
	return c.hub.On(event, handler)
}

func (c *HardwareController) Snapshot() Snapshot { return c.snapshot }

// Close shuts the serial port. The firmware's heartbeat watchdog will
// e-stop the leg on its own once traffic stops.
func (c *HardwareController) Close() error {
	return c.port.Close()
}
