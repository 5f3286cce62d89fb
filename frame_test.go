package goepp

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameHeader(t *testing.T) {
	t.Run("length includes header", func(t *testing.T) {
		h := NewFrameHeader(100)
		assert.Equal(t, uint32(104), h.Length)
		assert.Equal(t, 100, h.PayloadLength())
	})

	t.Run("marshal is big endian", func(t *testing.T) {
		h := &FrameHeader{Length: 0x01020304}
		data, err := h.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data)

		decoded := &FrameHeader{}
		require.NoError(t, decoded.UnmarshalBinary(data))
		assert.Equal(t, h.Length, decoded.Length)
	})

	t.Run("unmarshal short buffer", func(t *testing.T) {
		h := &FrameHeader{}
		err := h.UnmarshalBinary([]byte{0x00, 0x01})
		assert.ErrorIs(t, err, ErrFrame)
	})

	t.Run("validate", func(t *testing.T) {
		tests := []struct {
			name     string
			length   uint32
			max      uint32
			wantErr  error
			tooLarge bool
		}{
			{name: "empty payload", length: 4, max: 1024},
			{name: "below header size", length: 3, max: 1024, wantErr: ErrFrame},
			{name: "zero", length: 0, max: 1024, wantErr: ErrFrame},
			{name: "at maximum", length: 1024, max: 1024},
			{name: "over maximum", length: 1025, max: 1024, wantErr: ErrFrame, tooLarge: true},
			{name: "no maximum", length: 1 << 30, max: 0},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := (&FrameHeader{Length: tt.length}).Validate(tt.max)
				if tt.wantErr == nil {
					assert.NoError(t, err)
					return
				}
				assert.ErrorIs(t, err, tt.wantErr)
				if tt.tooLarge {
					assert.ErrorIs(t, err, ErrFrameTooLarge)
				}
			})
		}
	})

	t.Run("payload length of invalid header", func(t *testing.T) {
		assert.Equal(t, 0, (&FrameHeader{Length: 2}).PayloadLength())
	})
}

func TestEncodeFrame(t *testing.T) {
	frame := EncodeFrame([]byte("abc"))
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x07, 'a', 'b', 'c'}, frame)

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x04}, EncodeFrame(nil))
}

func TestReadFrame(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		var buf bytes.Buffer
		payload := []byte(`<?xml version="1.0"?><epp xmlns="urn:ietf:params:xml:ns:epp-1.0"><hello/></epp>`)
		require.NoError(t, WriteFrame(&buf, payload))

		got, err := ReadFrame(&buf, DefaultMaxFrameLength)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.Zero(t, buf.Len())
	})

	t.Run("consecutive frames", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, []byte("first")))
		require.NoError(t, WriteFrame(&buf, []byte("second")))

		first, err := ReadFrame(&buf, DefaultMaxFrameLength)
		require.NoError(t, err)
		second, err := ReadFrame(&buf, DefaultMaxFrameLength)
		require.NoError(t, err)

		assert.Equal(t, "first", string(first))
		assert.Equal(t, "second", string(second))
	})

	t.Run("empty payload", func(t *testing.T) {
		got, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 4}), DefaultMaxFrameLength)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("declared length below header size", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 3, 'x'}), DefaultMaxFrameLength)
		assert.ErrorIs(t, err, ErrFrame)
	})

	t.Run("declared length over maximum", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 1, 0}), 128)
		assert.ErrorIs(t, err, ErrFrame)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0}), DefaultMaxFrameLength)
		assert.ErrorIs(t, err, ErrFrame)
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("truncated payload", func(t *testing.T) {
		frame := EncodeFrame([]byte("<epp/>"))
		_, err := ReadFrame(bytes.NewReader(frame[:len(frame)-2]), DefaultMaxFrameLength)
		assert.ErrorIs(t, err, ErrFrame)
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("stream closed before any byte", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader(nil), DefaultMaxFrameLength)
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})
}

func TestWriteAll(t *testing.T) {
	t.Run("write all bytes successfully", func(t *testing.T) {
		server, client := net.Pipe()
		defer server.Close()
		defer client.Close()

		data := []byte("hello world test data")
		done := make(chan error)

		go func() {
			done <- writeAll(client, data)
		}()

		buf := make([]byte, len(data))
		_, err := io.ReadFull(server, buf)
		require.NoError(t, err)
		assert.Equal(t, data, buf)

		assert.NoError(t, <-done)
	})

	t.Run("write to closed connection", func(t *testing.T) {
		server, client := net.Pipe()
		server.Close()

		err := writeAll(client, []byte("test"))
		assert.Error(t, err)
		client.Close()
	})

	t.Run("zero-progress write returns error", func(t *testing.T) {
		err := writeAll(&zeroWriter{}, []byte("test"))
		assert.ErrorIs(t, err, io.ErrShortWrite)
	})

	t.Run("short writes are retried", func(t *testing.T) {
		w := &chunkWriter{chunk: 3}
		require.NoError(t, writeAll(w, []byte("0123456789")))
		assert.Equal(t, "0123456789", w.buf.String())
		assert.Equal(t, 4, w.calls)
	})
}

// zeroWriter reports 0 bytes written with no error.
type zeroWriter struct{}

func (*zeroWriter) Write([]byte) (int, error) {
	return 0, nil
}

// chunkWriter accepts at most chunk bytes per call.
type chunkWriter struct {
	buf   bytes.Buffer
	chunk int
	calls int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) > w.chunk {
		p = p[:w.chunk]
	}
	return w.buf.Write(p)
}
