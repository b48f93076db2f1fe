package mysql

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Client/server capability flags.
const (
	CapLongPassword        uint32 = 0x00000001
	CapFoundRows           uint32 = 0x00000002
	CapLongFlag            uint32 = 0x00000004
	CapConnectWithDB       uint32 = 0x00000008
	CapCompress            uint32 = 0x00000020
	CapLocalFiles          uint32 = 0x00000080
	CapIgnoreSpace         uint32 = 0x00000100
	CapProtocol41          uint32 = 0x00000200
	CapInteractive         uint32 = 0x00000400
	CapSSL                 uint32 = 0x00000800
	CapTransactions        uint32 = 0x00002000
	CapSecureConnection    uint32 = 0x00008000
	CapMultiStatements     uint32 = 0x00010000
	CapMultiResults        uint32 = 0x00020000
	CapPluginAuth          uint32 = 0x00080000
	CapConnectAttrs        uint32 = 0x00100000
	CapPluginAuthLenencCli uint32 = 0x00200000
	CapDeprecateEOF        uint32 = 0x01000000
)

// ServerCapabilities is the bitmap advertised in the handshake. CLIENT_SSL
// and CLIENT_DEPRECATE_EOF are deliberately absent: the gateway refuses
// TLS and speaks the EOF-terminated result set shape.
const ServerCapabilities = CapLongPassword | CapFoundRows | CapLongFlag |
	CapConnectWithDB | CapIgnoreSpace | CapProtocol41 | CapInteractive |
	CapTransactions | CapSecureConnection | CapMultiStatements |
	CapMultiResults | CapPluginAuth

// Command-phase opcodes.
const (
	ComQuit        byte = 0x01
	ComInitDB      byte = 0x02
	ComQuery       byte = 0x03
	ComFieldList   byte = 0x04
	ComCreateDB    byte = 0x05
	ComDropDB      byte = 0x06
	ComRefresh     byte = 0x08
	ComStatistics  byte = 0x09
	ComProcessInfo byte = 0x0a
	ComConnect     byte = 0x0b
	ComProcessKill byte = 0x0c
	ComDebug       byte = 0x0d
	ComPing        byte = 0x0e
	ComChangeUser  byte = 0x11
)

const (
	charsetUTF8General    byte   = 0x21 // utf8_general_ci
	statusAutocommit      uint16 = 0x0002
	authPluginName               = "mysql_native_password"
	scramblePart1Len             = 8
	scramblePart2Len             = 12
	defaultServerVersion         = "5.7.25"
)

// NewScramble generates the per-session auth-plugin-data: 20 random
// bytes with NULs filtered out, since the handshake carries them in
// NUL-delimited positions.
func NewScramble() ([20]byte, error) {
	var scramble [20]byte
	if _, err := rand.Read(scramble[:]); err != nil {
		return scramble, fmt.Errorf("generating scramble: %w", err)
	}
	for i, b := range scramble {
		if b == 0 {
			scramble[i] = byte(i%126) + 1
		}
	}
	return scramble, nil
}

// BuildHandshakeV10 builds the Protocol::HandshakeV10 payload.
func BuildHandshakeV10(connID uint32, serverVersion string, scramble [20]byte) []byte {
	if serverVersion == "" {
		serverVersion = defaultServerVersion
	}

	buf := make([]byte, 0, 128)
	buf = append(buf, 10) // protocol version
	buf = append(buf, serverVersion...)
	buf = append(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, connID)
	buf = append(buf, scramble[:scramblePart1Len]...)
	buf = append(buf, 0) // filler
	buf = binary.LittleEndian.AppendUint16(buf, uint16(ServerCapabilities&0xffff))
	buf = append(buf, charsetUTF8General)
	buf = binary.LittleEndian.AppendUint16(buf, statusAutocommit)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(ServerCapabilities>>16))
	buf = append(buf, scramblePart1Len+scramblePart2Len+1) // auth data length (21)
	buf = append(buf, make([]byte, 10)...)                 // reserved
	buf = append(buf, scramble[scramblePart1Len:scramblePart1Len+scramblePart2Len]...)
	buf = append(buf, 0)
	buf = append(buf, authPluginName...)
	buf = append(buf, 0)
	return buf
}

// HandshakeResponse is the parsed Protocol::HandshakeResponse41.
type HandshakeResponse struct {
	Capabilities uint32
	MaxPacket    uint32
	Charset      byte
	User         string
	AuthData     []byte
	Database     string
	AuthPlugin   string

	// SSLRequest is set when the client sent the 32-byte SSL-request
	// short packet instead of a full response.
	SSLRequest bool
}

// ParseHandshakeResponse parses the client's handshake response payload.
func ParseHandshakeResponse(payload []byte) (*HandshakeResponse, error) {
	if len(payload) < 32 {
		return nil, fmt.Errorf("handshake response too short: %d bytes", len(payload))
	}

	resp := &HandshakeResponse{
		Capabilities: binary.LittleEndian.Uint32(payload[0:4]),
		MaxPacket:    binary.LittleEndian.Uint32(payload[4:8]),
		Charset:      payload[8],
	}
	// payload[9:32] is reserved.

	if len(payload) == 32 && resp.Capabilities&CapSSL != 0 {
		resp.SSLRequest = true
		return resp, nil
	}

	pos := 32
	user, pos, err := readNulString(payload, pos)
	if err != nil {
		return nil, fmt.Errorf("reading username: %w", err)
	}
	resp.User = user

	switch {
	case resp.Capabilities&CapPluginAuthLenencCli != 0:
		n, consumed, err := ReadLenencInt(payload, pos)
		if err != nil {
			return nil, fmt.Errorf("reading auth data length: %w", err)
		}
		pos += consumed
		// Compare in uint64: a length near 2^64 would wrap int(n) negative
		// and slip past an int-typed bounds check.
		if n > uint64(len(payload)-pos) {
			return nil, io.ErrUnexpectedEOF
		}
		resp.AuthData = payload[pos : pos+int(n)]
		pos += int(n)
	case resp.Capabilities&CapSecureConnection != 0:
		if pos >= len(payload) {
			return nil, io.ErrUnexpectedEOF
		}
		n := int(payload[pos])
		pos++
		if pos+n > len(payload) {
			return nil, io.ErrUnexpectedEOF
		}
		resp.AuthData = payload[pos : pos+n]
		pos += n
	default:
		auth, next, err := readNulString(payload, pos)
		if err != nil {
			return nil, fmt.Errorf("reading auth data: %w", err)
		}
		resp.AuthData = []byte(auth)
		pos = next
	}

	if resp.Capabilities&CapConnectWithDB != 0 && pos < len(payload) {
		db, next, err := readNulString(payload, pos)
		if err != nil {
			// Tolerate a missing terminator on the final field.
			db = string(payload[pos:])
			next = len(payload)
		}
		resp.Database = db
		pos = next
	}

	if resp.Capabilities&CapPluginAuth != 0 && pos < len(payload) {
		plugin, next, err := readNulString(payload, pos)
		if err != nil {
			plugin = string(payload[pos:])
			next = len(payload)
		}
		resp.AuthPlugin = plugin
		pos = next
	}

	return resp, nil
}

// BuildOK builds an OK_Packet payload.
func BuildOK(affectedRows, lastInsertID uint64) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, 0x00)
	buf = AppendLenencInt(buf, affectedRows)
	buf = AppendLenencInt(buf, lastInsertID)
	buf = binary.LittleEndian.AppendUint16(buf, statusAutocommit)
	buf = binary.LittleEndian.AppendUint16(buf, 0) // warnings
	return buf
}

// BuildErr builds an ERR_Packet payload. SQL states shorter than five
// bytes are space-padded.
func BuildErr(code uint16, sqlState, message string) []byte {
	if len(sqlState) < 5 {
		sqlState += "     "
	}
	buf := make([]byte, 0, 9+len(message))
	buf = append(buf, 0xff)
	buf = binary.LittleEndian.AppendUint16(buf, code)
	buf = append(buf, '#')
	buf = append(buf, sqlState[:5]...)
	buf = append(buf, message...)
	return buf
}

// BuildEOF builds an EOF_Packet payload. It is always exactly five
// bytes so it cannot be confused with a row starting with 0xFE.
func BuildEOF() []byte {
	buf := make([]byte, 0, 5)
	buf = append(buf, 0xfe)
	buf = binary.LittleEndian.AppendUint16(buf, 0) // warnings
	buf = binary.LittleEndian.AppendUint16(buf, statusAutocommit)
	return buf
}
