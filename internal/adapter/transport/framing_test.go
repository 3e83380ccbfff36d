package transport

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteFrameFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"jsonrpc":"2.0"}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	want := "Content-Length: 17\r\n\r\n" + `{"jsonrpc":"2.0"}`
	if buf.String() != want {
		t.Fatalf("frame = %q, want %q", buf.String(), want)
	}
}

func TestReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"jsonrpc":"2.0","method":"initialized"}`)
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("body = %q, want %q", got, payload)
	}
}

func TestReadFrameIgnoresExtraHeaders(t *testing.T) {
	raw := "Content-Type: application/vscode-jsonrpc\r\ncontent-length: 2\r\n\r\n{}"
	got, err := ReadFrame(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != "{}" {
		t.Fatalf("body = %q, want {}", got)
	}
}

func TestReadFrameSequentialMessages(t *testing.T) {
	var buf bytes.Buffer
	for _, p := range []string{`{"id":1}`, `{"id":2}`} {
		if err := WriteFrame(&buf, []byte(p)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	r := bufio.NewReader(&buf)
	for _, want := range []string{`{"id":1}`, `{"id":2}`} {
		got, err := ReadFrame(r)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(got) != want {
			t.Fatalf("body = %q, want %q", got, want)
		}
	}
}

func TestReadFrameMissingContentLength(t *testing.T) {
	raw := "Content-Type: application/json\r\n\r\n{}"
	if _, err := ReadFrame(bufio.NewReader(strings.NewReader(raw))); err == nil {
		t.Fatal("expected error for missing Content-Length")
	}
}

func TestReadFrameBadContentLength(t *testing.T) {
	raw := "Content-Length: twelve\r\n\r\n{}"
	if _, err := ReadFrame(bufio.NewReader(strings.NewReader(raw))); err == nil {
		t.Fatal("expected error for unparseable Content-Length")
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	raw := "Content-Length: 10\r\n\r\n{}"
	if _, err := ReadFrame(bufio.NewReader(strings.NewReader(raw))); err == nil {
		t.Fatal("expected error for short body")
	}
}
