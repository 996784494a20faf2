package legctl

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/kinematics/geometry"
	"github.com/viamrobotics/hexctl/wire"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string { return "no data" }
func (fakeTimeout) Timeout() bool { return true }

// fakePort scripts a microcontroller: it answers leg_number and
// pid_seed_time queries and records everything the host writes.
type fakePort struct {
	in  bytes.Buffer
	out bytes.Buffer

	legNumber float64
	seedTime  float64
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.in.Len() == 0 {
		return 0, fakeTimeout{}
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.out.Write(b)
	frame, err := wire.ChecksumFramer{}.ReadFrame(bytes.NewReader(b))
	if err != nil {
		return len(b), nil
	}
	switch frame.Command {
	case wire.LegNumber:
		p.respond(wire.LegNumber, p.legNumber)
	case wire.PIDSeedTime:
		p.respond(wire.PIDSeedTime, p.seedTime)
	}
	return len(b), nil
}

func (p *fakePort) respond(cmd wire.CommandID, values ...float64) {
	sig, _ := wire.Lookup(cmd)
	payload, _ := wire.Encode(sig.Response, values)
	_ = wire.ChecksumFramer{}.WriteFrame(&p.in, wire.Frame{
		Protocol: wire.ProtocolCommand, Command: cmd, Payload: payload,
	})
}

// pushReport queues an unsolicited telemetry frame for the host to drain
// on its next Update.
func (p *fakePort) pushReport(cmd wire.CommandID, values ...float64) {
	p.respond(cmd, values...)
}

// writtenFrames decodes every frame the host has transmitted so far.
func (p *fakePort) writtenFrames() []wire.Frame {
	r := bytes.NewReader(p.out.Bytes())
	var frames []wire.Frame
	for {
		f, err := wire.ChecksumFramer{}.ReadFrame(r)
		if err != nil {
			return frames
		}
		frames = append(frames, f)
	}
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) SetRTS(bool) error                  { return nil }
func (p *fakePort) ResetInputBuffer() error            { return nil }
func (p *fakePort) ResetOutputBuffer() error           { return nil }
func (p *fakePort) Close() error                       { return nil }

func countCommand(frames []wire.Frame, cmd wire.CommandID) int {
	n := 0
	for _, f := range frames {
		if f.Command == cmd {
			n++
		}
	}
	return n
}

func newTestHardware(t *testing.T, port *fakePort, latch *TickLatch) *HardwareController {
	t.Helper()
	c, err := NewHardwareControllerFromPort(
		context.Background(), port,
		HardwareOptions{Geometry: testGeometry(), Latch: latch},
		logging.NewTestLogger(t))
	assert.NoError(t, err)
	return c
}

func TestHardwareSetupSequence(t *testing.T) {
	port := &fakePort{legNumber: 3, seedTime: 0.0251}
	latch := NewTickLatch()
	c := newTestHardware(t, port, latch)

	assert.Equal(t, 3, c.LegNumber())
	assert.Equal(t, Hard, c.Estop())

	// Seed time rounds to the nearest millisecond on first connect.
	tick, ok := latch.Value()
	assert.True(t, ok)
	assert.InDelta(t, 0.025, tick, 1e-9)
	assert.InDelta(t, 0.025, c.PlanTick(), 1e-9)

	frames := port.writtenFrames()
	// Geometry upload is 9 parameters for each of 3 joints.
	assert.Equal(t, geometry.NumGeomParams*geometry.NumJoints,
		countCommand(frames, wire.SetGeometry))
	// Exactly one first heartbeat at the end of setup.
	assert.Equal(t, 1, countCommand(frames, wire.Heartbeat))
}

func TestHardwareSecondLegSeedTimeMismatchFailsSetup(t *testing.T) {
	latch := NewTickLatch()
	_, err := latch.Observe(0.025)
	assert.NoError(t, err)

	port := &fakePort{legNumber: 4, seedTime: 0.030}
	_, err = NewHardwareControllerFromPort(
		context.Background(), port,
		HardwareOptions{Geometry: testGeometry(), Latch: latch},
		logging.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrSeedTimeMismatch)
}

func TestHardwareHeartbeatFiresOnlyAfterPeriod(t *testing.T) {
	port := &fakePort{legNumber: 1, seedTime: 0.025}
	c := newTestHardware(t, port, NewTickLatch())
	before := countCommand(port.writtenFrames(), wire.Heartbeat)

	// Fresh heartbeat: Update must not send another.
	assert.NoError(t, c.Update(context.Background()))
	assert.Equal(t, before, countCommand(port.writtenFrames(), wire.Heartbeat))

	// Period elapsed: Update must send exactly one more.
	c.lastHeartbeat = time.Now().Add(-time.Second)
	assert.NoError(t, c.Update(context.Background()))
	assert.Equal(t, before+1, countCommand(port.writtenFrames(), wire.Heartbeat))
}

func TestHardwareTelemetryDispatch(t *testing.T) {
	port := &fakePort{legNumber: 2, seedTime: 0.025}
	c := newTestHardware(t, port, NewTickLatch())

	var got XYZSample
	c.On(EventXYZ, func(payload any) { got = payload.(XYZSample) })

	port.pushReport(wire.ReportXYZ, 40.5, 0, -40)
	assert.NoError(t, c.Update(context.Background()))

	assert.InDelta(t, 40.5, got.Pos.X, 1e-3)
	assert.InDelta(t, -40.0, got.Pos.Z, 1e-3)
	assert.InDelta(t, 40.5, c.Snapshot().XYZ.Pos.X, 1e-3)
}

func TestHardwareFirmwareEstopAdoptedWithoutEcho(t *testing.T) {
	port := &fakePort{legNumber: 2, seedTime: 0.025}
	c := newTestHardware(t, port, NewTickLatch())
	estopsSent := countCommand(port.writtenFrames(), wire.Estop)

	port.pushReport(wire.Estop, float64(Heartbeat))
	assert.NoError(t, c.Update(context.Background()))

	assert.Equal(t, Heartbeat, c.Estop())
	// Adopting a firmware-originated estop must not echo it back.
	assert.Equal(t, estopsSent, countCommand(port.writtenFrames(), wire.Estop))
}

func TestHardwareSendPlanTransmitsPlanCommand(t *testing.T) {
	port := &fakePort{legNumber: 2, seedTime: 0.025}
	c := newTestHardware(t, port, NewTickLatch())

	assert.NoError(t, c.Stop())
	assert.Equal(t, 1, countCommand(port.writtenFrames(), wire.PlanCmd))
}
