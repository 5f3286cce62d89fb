package goepp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameHeader represents the EPP data unit header as defined in RFC5734 Section 4.
// The header is 4 bytes and carries the total length of the data unit,
// including the header itself, in network byte order.
type FrameHeader struct {
	Length uint32
}

// NewFrameHeader creates a header for a payload of the given size.
func NewFrameHeader(payloadLength int) *FrameHeader {
	return &FrameHeader{Length: uint32(payloadLength + FrameHeaderLength)}
}

// MarshalBinary encodes the header to binary format (big-endian).
func (h *FrameHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameHeaderLength)
	binary.BigEndian.PutUint32(buf, h.Length)
	return buf, nil
}

// UnmarshalBinary decodes the header from binary format.
func (h *FrameHeader) UnmarshalBinary(data []byte) error {
	if len(data) < FrameHeaderLength {
		return fmt.Errorf("%w: need %d header bytes, got %d", ErrFrame, FrameHeaderLength, len(data))
	}
	h.Length = binary.BigEndian.Uint32(data[:FrameHeaderLength])
	return nil
}

// Validate checks the declared length against the header size and the given maximum.
// A zero maxLength disables the upper bound.
func (h *FrameHeader) Validate(maxLength uint32) error {
	if h.Length < FrameHeaderLength {
		return fmt.Errorf("%w: declared length %d is smaller than the %d byte header", ErrFrame, h.Length, FrameHeaderLength)
	}
	if maxLength > 0 && h.Length > maxLength {
		return fmt.Errorf("%w: %w: declared length %d exceeds maximum %d", ErrFrame, ErrFrameTooLarge, h.Length, maxLength)
	}
	return nil
}

// PayloadLength returns the number of payload bytes following the header.
func (h *FrameHeader) PayloadLength() int {
	if h.Length < FrameHeaderLength {
		return 0
	}
	return int(h.Length - FrameHeaderLength)
}

// EncodeFrame prepends the RFC5734 length header to payload.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, FrameHeaderLength+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(buf)))
	copy(buf[FrameHeaderLength:], payload)
	return buf
}

// WriteFrame writes one complete frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	return writeAll(w, EncodeFrame(payload))
}

// ReadFrame reads exactly one frame from r and returns its payload.
// The stream ending before the frame is complete is reported as ErrFrame
// wrapping ErrConnectionClosed.
func ReadFrame(r io.Reader, maxLength uint32) ([]byte, error) {
	headerBuf := make([]byte, FrameHeaderLength)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w: reading header", ErrFrame, ErrConnectionClosed)
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	header := &FrameHeader{}
	if err := header.UnmarshalBinary(headerBuf); err != nil {
		return nil, err
	}
	if err := header.Validate(maxLength); err != nil {
		return nil, err
	}

	payload := make([]byte, header.PayloadLength())
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: %w: expected %d payload bytes", ErrFrame, ErrConnectionClosed, len(payload))
			}
			return nil, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}

	return payload, nil
}

// writeAll writes data to w, retrying on short writes.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
