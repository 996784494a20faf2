package wire

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"
)

// fakeTransport separates outbound (what the session wrote) from
// inbound (what the session will read next) so tests can script
// firmware responses independently of what was sent.
type fakeTransport struct {
	out *bytes.Buffer
	in  *bytes.Buffer
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{out: &bytes.Buffer{}, in: &bytes.Buffer{}}
}

func (f *fakeTransport) Write(p []byte) (int, error) { return f.out.Write(p) }
func (f *fakeTransport) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeTransport) SetReadTimeout(time.Duration) error { return nil }

func writeResponseFrame(t *testing.T, transport *fakeTransport, cmd CommandID, values []float64) {
	t.Helper()
	sig, err := Lookup(cmd)
	assert.NoError(t, err)
	payload, err := Encode(sig.Response, values)
	assert.NoError(t, err)
	assert.NoError(t, ChecksumFramer{}.WriteFrame(transport.in, Frame{
		Protocol: ProtocolCommand, Command: cmd, Payload: payload,
	}))
}

func TestTriggerWritesEncodedFrame(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(transport, nil, logging.NewTestLogger(t))
	assert.NoError(t, s.Trigger(Heartbeat))
	assert.NotEmpty(t, transport.out.Bytes())
}

func TestBlockingTriggerReceivesMatchingResponse(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(transport, nil, logging.NewTestLogger(t))
	writeResponseFrame(t, transport, LegNumber, []float64{3})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := s.BlockingTrigger(ctx, LegNumber, 0)
	assert.NoError(t, err)
	assert.Equal(t, []float64{3}, resp.Values)
}

func TestBlockingTriggerTimesOutWithNoResponse(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(transport, nil, logging.NewTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.BlockingTrigger(ctx, LegNumber, 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBlockingTriggerDispatchesUnrelatedFramesWhileWaiting(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(transport, nil, logging.NewTestLogger(t))

	var gotEstop Response
	s.On(Estop, func(r Response) { gotEstop = r })

	writeResponseFrame(t, transport, Estop, []float64{2})
	writeResponseFrame(t, transport, LegNumber, []float64{5})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := s.BlockingTrigger(ctx, LegNumber, 0)
	assert.NoError(t, err)
	assert.Equal(t, []float64{5}, resp.Values)
	assert.Equal(t, []float64{2}, gotEstop.Values)
}

func TestUpdateDispatchesAvailableFramesWithoutBlocking(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(transport, nil, logging.NewTestLogger(t))

	var gotXYZ Response
	s.On(ReportXYZ, func(r Response) { gotXYZ = r })
	writeResponseFrame(t, transport, ReportXYZ, []float64{1, 2, 3})

	assert.NoError(t, s.Update(context.Background()))
	assert.Equal(t, []float64{1, 2, 3}, gotXYZ.Values)
}

func TestSessionTextFrameRoutedToTextHandler(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(transport, nil, logging.NewTestLogger(t))
	var got string
	s.SetTextHandler(func(msg string) { got = msg })

	assert.NoError(t, ChecksumFramer{}.WriteFrame(transport.in, Frame{
		Protocol: ProtocolText, Payload: []byte("hello"),
	}))
	assert.NoError(t, s.Update(context.Background()))
	assert.Equal(t, "hello", got)
}
