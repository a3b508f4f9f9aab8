package lrcp

import (
	"bytes"
	"testing"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("hello\n"),
		[]byte("a/b\\c"),
		[]byte(""),
		[]byte("\\\\//"),
	}
	for _, c := range cases {
		esc := Escape(c)
		got, err := Unescape(esc)
		if err != nil {
			t.Fatalf("unescape(%q) error: %v", esc, err)
		}
		if !bytes.Equal(got, c) {
			t.Fatalf("round trip mismatch: got %q want %q", got, c)
		}
	}
}

func TestParseConnect(t *testing.T) {
	f, err := Parse([]byte("/connect/1/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != Connect || f.Session != 1 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseData(t *testing.T) {
	f, err := Parse([]byte(`/data/1/0/hello\n/`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != Data || f.Session != 1 || f.Pos != 0 || string(f.Payload) != "hello\\n" {
		t.Fatalf("unexpected frame: %+v payload=%q", f, f.Payload)
	}
}

func TestParseDataEscapedSlash(t *testing.T) {
	f, err := Parse([]byte(`/data/1/0/a\/b/`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(f.Payload) != "a/b" {
		t.Fatalf("unexpected payload: %q", f.Payload)
	}
}

func TestParseAck(t *testing.T) {
	f, err := Parse([]byte("/ack/1/12/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != Ack || f.Session != 1 || f.Len != 12 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseClose(t *testing.T) {
	f, err := Parse([]byte("/close/1/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != Close || f.Session != 1 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		"connect/1/",     // missing leading slash
		"/connect/1",     // missing trailing slash
		"/connect/abc/",  // non-numeric
		"/bogus/1/",      // unknown form
		"/ack/1/",        // wrong field count
		"/connect/1/2/",  // too many fields
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	frames := []Frame{
		{Type: Connect, Session: 42},
		{Type: Data, Session: 42, Pos: 7, Payload: []byte("a/b\\c")},
		{Type: Ack, Session: 42, Len: 99},
		{Type: Close, Session: 42},
	}
	for _, f := range frames {
		wire := Format(f)
		got, err := Parse([]byte(wire))
		if err != nil {
			t.Fatalf("parse(%q) error: %v", wire, err)
		}
		if got.Type != f.Type || got.Session != f.Session || got.Pos != f.Pos || got.Len != f.Len || !bytes.Equal(got.Payload, f.Payload) {
			t.Fatalf("round trip mismatch for %+v: got %+v", f, got)
		}
	}
}
