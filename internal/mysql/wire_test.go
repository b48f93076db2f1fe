package mysql

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildHandshakeV10(t *testing.T) {
	scramble, err := NewScramble()
	if err != nil {
		t.Fatalf("NewScramble failed: %v", err)
	}
	for _, b := range scramble {
		if b == 0 {
			t.Fatal("scramble contains NUL byte")
		}
	}

	payload := BuildHandshakeV10(42, "8.0.32", scramble)

	if payload[0] != 10 {
		t.Errorf("expected protocol version 10, got %d", payload[0])
	}
	if !bytes.Contains(payload, append([]byte("8.0.32"), 0)) {
		t.Error("version string missing or not NUL-terminated")
	}

	// Connection id follows the version string terminator.
	idOff := 1 + len("8.0.32") + 1
	if id := binary.LittleEndian.Uint32(payload[idOff:]); id != 42 {
		t.Errorf("expected connection id 42, got %d", id)
	}

	// Capability halves reassemble to the advertised bitmap. The high
	// word sits after the charset byte and the 2-byte status flags.
	capLow := idOff + 4 + scramblePart1Len + 1
	low := binary.LittleEndian.Uint16(payload[capLow:])
	high := binary.LittleEndian.Uint16(payload[capLow+5:])
	caps := uint32(low) | uint32(high)<<16
	if caps != ServerCapabilities {
		t.Errorf("capabilities mismatch: got %08x, want %08x", caps, ServerCapabilities)
	}
	if caps&CapSSL != 0 {
		t.Error("server must not advertise CLIENT_SSL")
	}
	if caps&CapDeprecateEOF != 0 {
		t.Error("server must not advertise CLIENT_DEPRECATE_EOF")
	}

	if !bytes.Contains(payload, append([]byte(authPluginName), 0)) {
		t.Error("auth plugin name missing")
	}
}

func buildTestResponse(caps uint32, user, db string) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, caps)
	buf = binary.LittleEndian.AppendUint32(buf, 1<<24) // max packet
	buf = append(buf, charsetUTF8General)
	buf = append(buf, make([]byte, 23)...)
	buf = append(buf, user...)
	buf = append(buf, 0)
	buf = append(buf, 20) // auth data length
	buf = append(buf, bytes.Repeat([]byte{0xab}, 20)...)
	if caps&CapConnectWithDB != 0 {
		buf = append(buf, db...)
		buf = append(buf, 0)
	}
	if caps&CapPluginAuth != 0 {
		buf = append(buf, authPluginName...)
		buf = append(buf, 0)
	}
	return buf
}

func TestParseHandshakeResponse(t *testing.T) {
	caps := CapProtocol41 | CapSecureConnection | CapConnectWithDB | CapPluginAuth
	resp, err := ParseHandshakeResponse(buildTestResponse(caps, "root", "demo"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if resp.User != "root" {
		t.Errorf("expected user root, got %q", resp.User)
	}
	if resp.Database != "demo" {
		t.Errorf("expected database demo, got %q", resp.Database)
	}
	if resp.AuthPlugin != authPluginName {
		t.Errorf("expected plugin %q, got %q", authPluginName, resp.AuthPlugin)
	}
	if len(resp.AuthData) != 20 {
		t.Errorf("expected 20 auth bytes, got %d", len(resp.AuthData))
	}
	if resp.SSLRequest {
		t.Error("unexpected SSL request")
	}
}

func TestParseHandshakeResponseNoDB(t *testing.T) {
	caps := CapProtocol41 | CapSecureConnection
	resp, err := ParseHandshakeResponse(buildTestResponse(caps, "app", ""))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if resp.Database != "" {
		t.Errorf("expected no database, got %q", resp.Database)
	}
}

func TestParseHandshakeResponseSSLRequest(t *testing.T) {
	buf := binary.LittleEndian.AppendUint32(nil, CapProtocol41|CapSSL)
	buf = binary.LittleEndian.AppendUint32(buf, 1<<24)
	buf = append(buf, charsetUTF8General)
	buf = append(buf, make([]byte, 23)...)

	resp, err := ParseHandshakeResponse(buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !resp.SSLRequest {
		t.Error("expected SSL request to be detected")
	}
}

func TestParseHandshakeResponseLenencAuth(t *testing.T) {
	caps := CapProtocol41 | CapSecureConnection | CapPluginAuthLenencCli
	buf := binary.LittleEndian.AppendUint32(nil, caps)
	buf = binary.LittleEndian.AppendUint32(buf, 1<<24)
	buf = append(buf, charsetUTF8General)
	buf = append(buf, make([]byte, 23)...)
	buf = append(buf, "app\x00"...)
	buf = AppendLenencInt(buf, 20)
	buf = append(buf, bytes.Repeat([]byte{0xcd}, 20)...)

	resp, err := ParseHandshakeResponse(buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(resp.AuthData) != 20 || resp.AuthData[0] != 0xcd {
		t.Errorf("unexpected auth data %x", resp.AuthData)
	}
}

func TestParseHandshakeResponseHugeAuthLength(t *testing.T) {
	// A lenenc auth length that overflows int must be rejected, not
	// sliced: 2^63 wraps negative when converted.
	caps := CapProtocol41 | CapSecureConnection | CapPluginAuthLenencCli
	for _, n := range []uint64{1 << 63, ^uint64(0), 1 << 32} {
		buf := binary.LittleEndian.AppendUint32(nil, caps)
		buf = binary.LittleEndian.AppendUint32(buf, 1<<24)
		buf = append(buf, charsetUTF8General)
		buf = append(buf, make([]byte, 23)...)
		buf = append(buf, "app\x00"...)
		buf = AppendLenencInt(buf, n)

		if _, err := ParseHandshakeResponse(buf); err == nil {
			t.Errorf("length %d: expected error, got nil", n)
		}
	}
}

func TestParseHandshakeResponseTooShort(t *testing.T) {
	if _, err := ParseHandshakeResponse(make([]byte, 10)); err == nil {
		t.Error("expected error for short payload")
	}
}

func TestBuildOK(t *testing.T) {
	payload := BuildOK(3, 17)
	if payload[0] != 0x00 {
		t.Fatalf("expected OK marker, got 0x%02x", payload[0])
	}
	affected, n, err := ReadLenencInt(payload, 1)
	if err != nil || affected != 3 {
		t.Errorf("expected affected rows 3, got %d (%v)", affected, err)
	}
	lastID, _, err := ReadLenencInt(payload, 1+n)
	if err != nil || lastID != 17 {
		t.Errorf("expected last insert id 17, got %d (%v)", lastID, err)
	}
}

func TestBuildErrLayout(t *testing.T) {
	payload := BuildErr(1001, "HY000", "SQL Error: boom")
	if payload[0] != 0xff {
		t.Fatalf("expected ERR marker, got 0x%02x", payload[0])
	}
	if code := binary.LittleEndian.Uint16(payload[1:]); code != 1001 {
		t.Errorf("expected code 1001, got %d", code)
	}
	if payload[3] != '#' {
		t.Errorf("expected SQL state marker, got %q", payload[3])
	}
	if state := string(payload[4:9]); state != "HY000" {
		t.Errorf("expected state HY000, got %q", state)
	}
	if msg := string(payload[9:]); msg != "SQL Error: boom" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestBuildErrPadsShortState(t *testing.T) {
	payload := BuildErr(1, "XX", "m")
	if state := string(payload[4:9]); state != "XX   " {
		t.Errorf("expected padded state, got %q", state)
	}
}

func TestBuildEOFExactlyFiveBytes(t *testing.T) {
	payload := BuildEOF()
	if len(payload) != 5 {
		t.Fatalf("EOF must be exactly 5 bytes, got %d", len(payload))
	}
	if payload[0] != 0xfe {
		t.Errorf("expected EOF marker, got 0x%02x", payload[0])
	}
}
