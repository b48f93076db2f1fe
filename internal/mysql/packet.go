// Package mysql implements the server side of the MySQL client/server
// protocol: packet framing, the connection-phase handshake, and the
// command-phase engine.
package mysql

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// maxPayload is the largest single-frame payload (2^24 - 1). A frame
	// of exactly this size signals continuation into the next frame.
	maxPayload = 1<<24 - 1

	// maxMessage bounds a reassembled multi-frame logical message.
	maxMessage = 1 << 26
)

// ReadPacket reads one logical MySQL packet, reassembling continuation
// frames. It returns the payload and the sequence id of the last frame.
func ReadPacket(r io.Reader) ([]byte, byte, error) {
	var payload []byte
	var seq byte
	for {
		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, 0, err
		}
		length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
		seq = header[3]

		if len(payload)+length > maxMessage {
			return nil, 0, fmt.Errorf("mysql packet too large: %d", len(payload)+length)
		}

		segment := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, segment); err != nil {
				return nil, 0, fmt.Errorf("reading packet payload: %w", err)
			}
		}
		payload = append(payload, segment...)

		if length < maxPayload {
			return payload, seq, nil
		}
	}
}

// WritePacket frames and writes a payload, splitting it across frames
// if it exceeds the single-frame maximum. It returns the next sequence
// id to use.
func WritePacket(w io.Writer, payload []byte, seq byte) (byte, error) {
	for {
		chunk := payload
		if len(chunk) >= maxPayload {
			chunk = payload[:maxPayload]
		}
		header := [4]byte{
			byte(len(chunk)),
			byte(len(chunk) >> 8),
			byte(len(chunk) >> 16),
			seq,
		}
		if _, err := w.Write(header[:]); err != nil {
			return seq, err
		}
		if len(chunk) > 0 {
			if _, err := w.Write(chunk); err != nil {
				return seq, err
			}
		}
		seq++
		if len(chunk) < maxPayload {
			return seq, nil
		}
		payload = payload[maxPayload:]
	}
}

// AppendLenencInt appends a length-encoded integer.
func AppendLenencInt(dst []byte, v uint64) []byte {
	switch {
	case v < 0xfb:
		return append(dst, byte(v))
	case v < 1<<16:
		return append(dst, 0xfc, byte(v), byte(v>>8))
	case v < 1<<24:
		return append(dst, 0xfd, byte(v), byte(v>>8), byte(v>>16))
	default:
		return append(dst, 0xfe,
			byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
			byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
	}
}

// ReadLenencInt decodes a length-encoded integer at data[pos],
// returning the value and the number of bytes consumed.
func ReadLenencInt(data []byte, pos int) (uint64, int, error) {
	if pos >= len(data) {
		return 0, 0, io.ErrUnexpectedEOF
	}
	first := data[pos]
	switch {
	case first < 0xfb:
		return uint64(first), 1, nil
	case first == 0xfc:
		if pos+3 > len(data) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		return uint64(binary.LittleEndian.Uint16(data[pos+1:])), 3, nil
	case first == 0xfd:
		if pos+4 > len(data) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		v := uint64(data[pos+1]) | uint64(data[pos+2])<<8 | uint64(data[pos+3])<<16
		return v, 4, nil
	case first == 0xfe:
		if pos+9 > len(data) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		return binary.LittleEndian.Uint64(data[pos+1:]), 9, nil
	default:
		// 0xfb (NULL) and 0xff (ERR marker) are not valid here.
		return 0, 0, fmt.Errorf("invalid lenenc integer prefix 0x%02x", first)
	}
}

// AppendLenencString appends a length-encoded string.
func AppendLenencString(dst []byte, s string) []byte {
	dst = AppendLenencInt(dst, uint64(len(s)))
	return append(dst, s...)
}

// readNulString reads a NUL-terminated string at data[pos], consuming
// the terminator.
func readNulString(data []byte, pos int) (string, int, error) {
	for i := pos; i < len(data); i++ {
		if data[i] == 0 {
			return string(data[pos:i]), i + 1, nil
		}
	}
	return "", 0, io.ErrUnexpectedEOF
}
