// Package postgres implements the server side of the PostgreSQL
// frontend/backend protocol, version 3: startup negotiation, the
// simple and extended query cycles, and message framing.
package postgres

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Startup-phase request codes. These arrive in the length-only startup
// frame before any typed messages flow.
const (
	protocolVersion3  uint32 = 196608   // 3.0
	sslRequestCode    uint32 = 80877103 // 0x04D2162F
	cancelRequestCode uint32 = 80877102
)

// Frontend message tags handled by the engine.
const (
	msgQuery     byte = 'Q'
	msgParse     byte = 'P'
	msgBind      byte = 'B'
	msgDescribe  byte = 'D'
	msgExecute   byte = 'E'
	msgClose     byte = 'C'
	msgSync      byte = 'S'
	msgFlush     byte = 'H'
	msgTerminate byte = 'X'
	msgPassword  byte = 'p'
)

// maxMessage bounds a single frame. Startup packets and queries both
// fit comfortably under it.
const maxMessage = 1 << 26

// ReadStartup reads one startup-phase frame: a 4-byte big-endian
// length that includes itself, then the body.
func ReadStartup(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 8 || length > maxMessage {
		return nil, fmt.Errorf("invalid startup packet length %d", length)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading startup packet: %w", err)
	}
	return body, nil
}

// ReadMessage reads one typed frame: tag byte, then a 4-byte big-endian
// length that includes itself but not the tag.
func ReadMessage(r io.Reader) (byte, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	tag := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length < 4 || length > maxMessage {
		return 0, nil, fmt.Errorf("invalid message length %d for tag %q", length, tag)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("reading message body: %w", err)
	}
	return tag, body, nil
}

// WriteMessage frames and writes one typed backend message.
func WriteMessage(w io.Writer, tag byte, body []byte) error {
	buf := make([]byte, 0, 5+len(body))
	buf = append(buf, tag)
	buf = binary.BigEndian.AppendUint32(buf, uint32(4+len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// parseStartupParams decodes the key/value pairs following the protocol
// version in a StartupMessage.
func parseStartupParams(body []byte) map[string]string {
	params := make(map[string]string)
	pos := 0
	for pos < len(body) {
		key, next, ok := cString(body, pos)
		if !ok || key == "" {
			break
		}
		val, after, ok := cString(body, next)
		if !ok {
			break
		}
		params[key] = val
		pos = after
	}
	return params
}

func cString(data []byte, pos int) (string, int, bool) {
	for i := pos; i < len(data); i++ {
		if data[i] == 0 {
			return string(data[pos:i]), i + 1, true
		}
	}
	return "", 0, false
}

func buildAuthenticationOk() []byte {
	return binary.BigEndian.AppendUint32(nil, 0)
}

func buildParameterStatus(key, value string) []byte {
	buf := make([]byte, 0, len(key)+len(value)+2)
	buf = append(buf, key...)
	buf = append(buf, 0)
	buf = append(buf, value...)
	buf = append(buf, 0)
	return buf
}

func buildBackendKeyData(pid, secret uint32) []byte {
	buf := binary.BigEndian.AppendUint32(nil, pid)
	return binary.BigEndian.AppendUint32(buf, secret)
}

// buildErrorResponse builds an ErrorResponse body with the three
// mandatory fields: severity, SQLSTATE code, and message.
func buildErrorResponse(severity, code, message string) []byte {
	buf := make([]byte, 0, len(severity)+len(code)+len(message)+8)
	buf = append(buf, 'S')
	buf = append(buf, severity...)
	buf = append(buf, 0)
	buf = append(buf, 'C')
	buf = append(buf, code...)
	buf = append(buf, 0)
	buf = append(buf, 'M')
	buf = append(buf, message...)
	buf = append(buf, 0)
	buf = append(buf, 0)
	return buf
}

func buildCommandComplete(tag string) []byte {
	buf := make([]byte, 0, len(tag)+1)
	buf = append(buf, tag...)
	return append(buf, 0)
}
