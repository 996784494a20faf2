package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Protocol ids multiplexed on one byte stream.
const (
	ProtocolCommand uint8 = 0
	ProtocolText    uint8 = 1
)

// Frame is one message boundary on the wire: a protocol id, a command
// id (ignored by text-protocol frames beyond being present), and a raw
// payload. Framing itself - how message boundaries and a checksum are
// recovered from a byte stream - is delegated to a Framer, matching the
// spec's "framing is delegated to an injected framing layer" note.
type Frame struct {
	Protocol uint8
	Command  CommandID
	Payload  []byte
}

// Framer reads and writes Frames over a byte stream, preserving message
// boundaries and a protocol id per message.
type Framer interface {
	WriteFrame(w io.Writer, f Frame) error
	ReadFrame(r io.Reader) (Frame, error)
}

// ErrChecksum is returned by ChecksumFramer.ReadFrame when a frame's
// trailing checksum does not match its contents; the caller logs and
// drops the frame, the session continues.
var ErrChecksum = errors.New("wire: frame checksum mismatch")

// ChecksumFramer is the default Framer: [protocol(1)][command(1)]
// [length(2, LE)][payload(length)][checksum(1)], where checksum is the
// one's-complement of the sum of every preceding byte in the frame.
type ChecksumFramer struct{}

func (ChecksumFramer) WriteFrame(w io.Writer, f Frame) error {
	buf := make([]byte, 0, 4+len(f.Payload)+1)
	buf = append(buf, f.Protocol, byte(f.Command))
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(f.Payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, f.Payload...)
	buf = append(buf, checksum(buf))
	_, err := w.Write(buf)
	return errors.Wrap(err, "wire: write frame")
}

func (ChecksumFramer) ReadFrame(r io.Reader) (Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, errors.Wrap(err, "wire: read frame header")
	}
	length := binary.LittleEndian.Uint16(header[2:4])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, errors.Wrap(err, "wire: read frame payload")
		}
	}
	var trailer [1]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return Frame{}, errors.Wrap(err, "wire: read frame checksum")
	}
	full := append(append([]byte{}, header[:]...), payload...)
	if checksum(full) != trailer[0] {
		return Frame{}, ErrChecksum
	}
	return Frame{Protocol: header[0], Command: CommandID(header[1]), Payload: payload}, nil
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}
