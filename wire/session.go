package wire

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/signalhub"
)

// Transport is the byte stream a Session rides on. SetReadTimeout lets
// Update drain available bytes without blocking indefinitely when
// nothing has arrived - go.bug.st/serial.Port implements exactly this
// shape.
type Transport interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
}

// Response is a decoded reply to a triggered command.
type Response struct {
	Command CommandID
	Values  []float64
}

// ErrTimeout is returned by BlockingTrigger when no matching response
// arrives before ctx is done.
var ErrTimeout = errors.New("wire: blocking trigger timed out")

// pollInterval bounds how long a single read attempt inside
// BlockingTrigger's poll loop may block the caller; Update uses a 1 ms
// read timeout of its own.
const pollInterval = 20 * time.Millisecond

// Session multiplexes the command (0) and text-debug (1) sub-protocols
// over one Transport, exposing fire-and-forget Trigger, timeout-bounded
// BlockingTrigger, and event registration keyed by command id.
type Session struct {
	transport   Transport
	framer      Framer
	logger      logging.Logger
	hub         *signalhub.Hub
	textHandler func(string)
}

// NewSession constructs a Session. framer may be nil, in which case
// ChecksumFramer{} is used.
func NewSession(transport Transport, framer Framer, logger logging.Logger) *Session {
	if framer == nil {
		framer = ChecksumFramer{}
	}
	return &Session{transport: transport, framer: framer, logger: logger, hub: signalhub.New()}
}

// SetTextHandler installs the callback invoked for every protocol-1
// (text debug) frame, decoded as a raw string.
func (s *Session) SetTextHandler(fn func(string)) {
	s.textHandler = fn
}

// On registers handler to be invoked with every decoded Response
// arriving under cmd that BlockingTrigger or Update dispatches. The
// reply a BlockingTrigger for cmd is waiting on is returned to its
// caller instead and does not reach handlers.
func (s *Session) On(cmd CommandID, handler func(Response)) signalhub.Token {
	return s.hub.On(eventName(cmd), func(payload any) {
		handler(payload.(Response))
	})
}

// Off removes a handler registered with On.
func (s *Session) Off(tok signalhub.Token) { s.hub.Off(tok) }

func eventName(cmd CommandID) string {
	sig, err := Lookup(cmd)
	if err != nil {
		return "unknown"
	}
	return sig.Name
}

// Trigger fire-and-forgets cmd with args, encoded per its signature.
func (s *Session) Trigger(cmd CommandID, args ...float64) error {
	sig, err := Lookup(cmd)
	if err != nil {
		return err
	}
	payload, err := Encode(sig.Args, args)
	if err != nil {
		return errors.Wrapf(err, "wire: encode %s", sig.Name)
	}
	return s.framer.WriteFrame(s.transport, Frame{
		Protocol: ProtocolCommand, Command: cmd, Payload: payload,
	})
}

// BlockingTrigger sends cmd with args and blocks until a response frame
// for the same command id arrives, ctx is done, or setting the read
// timeout fails; read errors and malformed frames are logged and
// skipped. Frames for other commands observed while waiting are dispatched
// normally, so the caller never starves ordinary telemetry delivery
// while awaiting a blocking reply.
func (s *Session) BlockingTrigger(ctx context.Context, cmd CommandID, args ...float64) (Response, error) {
	if _, err := Lookup(cmd); err != nil {
		return Response{}, err
	}
	if err := s.Trigger(cmd, args...); err != nil {
		return Response{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return Response{}, ErrTimeout
		default:
		}
		if err := s.transport.SetReadTimeout(pollInterval); err != nil {
			return Response{}, errors.Wrap(err, "wire: set read timeout")
		}
		frame, err := s.framer.ReadFrame(s.transport)
		if err != nil {
			if isTimeoutLike(err) {
				continue
			}
			s.logger.Warnf("wire: dropping malformed frame: %v", err)
			continue
		}
		if frame.Protocol == ProtocolText {
			s.dispatchText(frame)
			continue
		}
		resp, err := s.decode(frame)
		if err != nil {
			s.logger.Warnf("wire: dropping malformed frame: %v", err)
			continue
		}
		if frame.Command == cmd {
			return resp, nil
		}
		s.hub.Trigger(eventName(frame.Command), resp)
	}
}

// Update drains whatever frames are currently available on the
// transport, dispatching each to its registered handler, and returns
// without blocking once no more data is pending. This is the
// single-threaded loop's per-iteration poll of one leg's session.
func (s *Session) Update(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.transport.SetReadTimeout(1 * time.Millisecond); err != nil {
			return errors.Wrap(err, "wire: set read timeout")
		}
		frame, err := s.framer.ReadFrame(s.transport)
		if err != nil {
			if isTimeoutLike(err) {
				return nil
			}
			s.logger.Warnf("wire: dropping malformed frame: %v", err)
			return nil
		}
		if frame.Protocol == ProtocolText {
			s.dispatchText(frame)
			continue
		}
		resp, err := s.decode(frame)
		if err != nil {
			s.logger.Warnf("wire: dropping malformed frame: %v", err)
			continue
		}
		s.hub.Trigger(eventName(frame.Command), resp)
	}
}

func (s *Session) decode(frame Frame) (Response, error) {
	sig, err := Lookup(frame.Command)
	if err != nil {
		return Response{}, err
	}
	values, err := Decode(sig.Response, frame.Payload)
	if err != nil {
		return Response{}, err
	}
	return Response{Command: frame.Command, Values: values}, nil
}

func (s *Session) dispatchText(frame Frame) {
	if s.textHandler != nil {
		s.textHandler(string(bytes.TrimRight(frame.Payload, "\x00")))
	}
}

// isTimeoutLike reports whether err represents "no data available yet"
// rather than a genuine protocol error, so polling loops can treat it as
// "nothing to do this iteration".
func isTimeoutLike(err error) bool {
	type timeout interface{ Timeout() bool }
	if t, ok := errors.Cause(err).(timeout); ok {
		return t.Timeout()
	}
	return errors.Is(err, io.EOF)
}
