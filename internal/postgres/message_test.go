package postgres

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("SELECT 1\x00")
	if err := WriteMessage(&buf, 'Q', body); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	tag, got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if tag != 'Q' {
		t.Errorf("expected tag Q, got %q", tag)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("body mismatch: got %x, want %x", got, body)
	}
}

func TestMessageEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, '1', nil); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	tag, body, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if tag != '1' || len(body) != 0 {
		t.Errorf("got tag %q with %d body bytes", tag, len(body))
	}
}

func TestReadMessageRejectsBadLength(t *testing.T) {
	// Length field below the inclusive minimum of 4.
	raw := []byte{'Q', 0, 0, 0, 2}
	if _, _, err := ReadMessage(bytes.NewReader(raw)); err == nil {
		t.Error("expected error for invalid length")
	}
}

func TestReadStartup(t *testing.T) {
	payload := binary.BigEndian.AppendUint32(nil, protocolVersion3)
	payload = append(payload, "user\x00alice\x00database\x00demo\x00\x00"...)

	var buf bytes.Buffer
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(4+len(payload))))
	buf.Write(payload)

	body, err := ReadStartup(&buf)
	if err != nil {
		t.Fatalf("ReadStartup failed: %v", err)
	}
	if code := binary.BigEndian.Uint32(body[:4]); code != protocolVersion3 {
		t.Errorf("expected protocol 3.0, got %d", code)
	}

	params := parseStartupParams(body[4:])
	if params["user"] != "alice" {
		t.Errorf("expected user alice, got %q", params["user"])
	}
	if params["database"] != "demo" {
		t.Errorf("expected database demo, got %q", params["database"])
	}
}

func TestReadStartupRejectsShortLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(binary.BigEndian.AppendUint32(nil, 4))
	if _, err := ReadStartup(&buf); err == nil {
		t.Error("expected error for undersized startup packet")
	}
}

func TestBuildErrorResponseFields(t *testing.T) {
	body := buildErrorResponse("ERROR", "42000", "SQL Error: boom")
	want := []byte("SERROR\x00C42000\x00MSQL Error: boom\x00\x00")
	if !bytes.Equal(body, want) {
		t.Errorf("got %q, want %q", body, want)
	}
}

func TestCommandTag(t *testing.T) {
	cases := []struct {
		stmt string
		n    int64
		want string
	}{
		{"SELECT * FROM t", 3, "SELECT 3"},
		{"select 1", 1, "SELECT 1"},
		{"INSERT INTO t VALUES (1)", 1, "INSERT 0 1"},
		{"UPDATE t SET a = 1", 5, "UPDATE 5"},
		{"DELETE FROM t", 0, "DELETE 0"},
		{"CREATE TABLE t (id int)", 0, "CREATE TABLE"},
		{"BEGIN", 0, "BEGIN"},
		{"commit", 0, "COMMIT"},
		{"SET client_encoding TO 'UTF8'", 0, "SET"},
		{"SHOW server_version", 1, "SELECT 1"},
	}
	for _, tc := range cases {
		if got := commandTag(tc.stmt, tc.n); got != tc.want {
			t.Errorf("commandTag(%q, %d) = %q, want %q", tc.stmt, tc.n, got, tc.want)
		}
	}
}

func TestSubstituteParams(t *testing.T) {
	v42 := "42"
	quoted := "o'brien"
	got, err := substituteParams("select * from t where id = $1 and name = $2 and x is $3", []*string{&v42, &quoted, nil})
	if err != nil {
		t.Fatalf("substitution failed: %v", err)
	}
	want := "select * from t where id = '42' and name = 'o''brien' and x is NULL"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSubstituteParamsMissing(t *testing.T) {
	if _, err := substituteParams("select $2", []*string{nil}); err == nil {
		t.Error("expected error for out-of-range placeholder")
	}
}
