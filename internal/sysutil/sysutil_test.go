package sysutil

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := map[string]zerolog.Level{
		"debug":     zerolog.DebugLevel,
		"  DeBuG  ": zerolog.DebugLevel,
		"trace":     zerolog.TraceLevel,
		"":          zerolog.InfoLevel,
		"warning":   zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"panic":     zerolog.PanicLevel,
		"loud":      zerolog.InfoLevel,
	}
	for in, want := range cases {
		got := SetLogLevel(in)
		if got != want || zerolog.GlobalLevel() != want {
			t.Errorf("SetLogLevel(%q) = %v (global %v), want %v", in, got, zerolog.GlobalLevel(), want)
		}
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "TRUE", " yes ", "Y", "on"} {
		if b, ok := ParseBool(v); !b || !ok {
			t.Errorf("ParseBool(%q) = %v,%v", v, b, ok)
		}
	}
	for _, v := range []string{"0", "false", "No", "off", "n"} {
		if b, ok := ParseBool(v); b || !ok {
			t.Errorf("ParseBool(%q) = %v,%v", v, b, ok)
		}
	}
	for _, v := range []string{"", "  ", "maybe"} {
		if _, ok := ParseBool(v); ok {
			t.Errorf("ParseBool(%q) accepted", v)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("no args: %q", got)
	}
	if got := FirstNonEmpty(" ", "\t"); got != "" {
		t.Fatalf("blanks: %q", got)
	}
	if got := FirstNonEmpty("", "  ", "worker-1", "worker-2"); got != "worker-1" {
		t.Fatalf("got %q", got)
	}
}
