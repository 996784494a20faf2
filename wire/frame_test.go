package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumFramerRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	f := ChecksumFramer{}
	want := Frame{Protocol: ProtocolCommand, Command: Heartbeat, Payload: []byte{1, 2, 3}}

	assert.NoError(t, f.WriteFrame(buf, want))
	got, err := f.ReadFrame(buf)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestChecksumFramerDetectsCorruption(t *testing.T) {
	buf := &bytes.Buffer{}
	f := ChecksumFramer{}
	assert.NoError(t, f.WriteFrame(buf, Frame{Protocol: 0, Command: Heartbeat}))

	corrupted := buf.Bytes()
	corrupted[0] ^= 0xFF

	_, err := f.ReadFrame(bytes.NewReader(corrupted))
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestChecksumFramerEmptyPayload(t *testing.T) {
	buf := &bytes.Buffer{}
	f := ChecksumFramer{}
	want := Frame{Protocol: ProtocolText, Command: 0, Payload: nil}
	assert.NoError(t, f.WriteFrame(buf, want))
	got, err := f.ReadFrame(buf)
	assert.NoError(t, err)
	assert.Equal(t, ProtocolText, got.Protocol)
	assert.Empty(t, got.Payload)
}
