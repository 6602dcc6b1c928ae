package qrcode

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteToIncludesURL(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTo(&buf, "http://192.168.1.5:8080/"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "http://192.168.1.5:8080/") {
		t.Errorf("expected URL in output, got:\n%s", out)
	}
	if !strings.Contains(out, "█") && !strings.Contains(out, "▀") {
		t.Errorf("expected QR block characters in output, got:\n%s", out)
	}
}

func TestPadAddsQuietBorder(t *testing.T) {
	bitmap := [][]bool{{true, false}, {false, true}}
	padded := pad(bitmap)
	if len(padded) != 2+4 {
		t.Fatalf("got %d rows, want %d", len(padded), 6)
	}
	for _, v := range padded[0] {
		if v {
			t.Fatalf("border row should be all false, got %v", padded[0])
		}
	}
}
