package xlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger().ToWriter(&buf)

	l.Begin().Info('i', "hello %s", "world").Commit()

	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("log output missing message: %q", buf.String())
	}
}

func TestLoggerCcForwardsAboveMask(t *testing.T) {
	var main, console bytes.Buffer
	l := NewLogger().ToWriter(&main)
	cc := NewLogger().ToWriter(&console)

	l.Cc(LogError, cc)

	l.Begin().Error('!', "bad thing").Commit()
	l.Begin().Debug(' ', "noisy detail").Commit()

	if !strings.Contains(console.String(), "bad thing") {
		t.Fatalf("cc logger missing error line: %q", console.String())
	}
	if strings.Contains(console.String(), "noisy detail") {
		t.Fatalf("cc logger should not have received a debug line below its mask: %q", console.String())
	}
}

func TestLogMessageHexDump(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger().ToWriter(&buf)

	l.Begin().HexDump(LogTraceUSB, []byte{0x0c, 0, 0, 0, 1, 0, 0x02, 0x10, 0, 0, 0, 0}).Commit()

	out := buf.String()
	if !strings.Contains(out, "0000:") {
		t.Fatalf("hex dump missing offset column: %q", out)
	}
	if !strings.Contains(out, "0c 00") {
		t.Fatalf("hex dump missing expected bytes: %q", out)
	}
}

func TestNestedLogMessageFlushesToParent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger().ToWriter(&buf)

	top := l.Begin()
	child := top.Begin()
	child.Info(' ', "nested line").Commit()
	top.Commit()

	if !strings.Contains(buf.String(), "nested line") {
		t.Fatalf("nested message did not reach output: %q", buf.String())
	}
}
