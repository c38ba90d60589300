package xlog

import (
	"bytes"
	"testing"
)

func TestLineWriterSplitsCompleteLines(t *testing.T) {
	var got [][]byte
	lw := &LineWriter{Callback: func(line []byte) {
		cp := append([]byte(nil), line...)
		got = append(got, cp)
	}}

	lw.Write([]byte("hello "))
	lw.Write([]byte("world\nsecond line\npartial"))

	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(got), got)
	}
	if !bytes.Equal(got[0], []byte("hello world\n")) {
		t.Errorf("line 0 = %q", got[0])
	}
	if !bytes.Equal(got[1], []byte("second line\n")) {
		t.Errorf("line 1 = %q", got[1])
	}

	lw.Close()
	if len(got) != 3 {
		t.Fatalf("got %d lines after Close, want 3", len(got))
	}
	if !bytes.Equal(got[2], []byte("partial\n")) {
		t.Errorf("line 2 = %q", got[2])
	}
}

func TestLineWriterCloseWithNothingPending(t *testing.T) {
	called := false
	lw := &LineWriter{Callback: func([]byte) { called = true }}
	lw.Close()
	if called {
		t.Fatal("Close invoked callback with no pending data")
	}
}
