package llm

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

// framerInput holds exactly five newline-terminated lines, including a
// blank one, a CRLF one and multi-byte characters.
const framerInput = "data: a\n\ndata: b\r\n: comment\ndata: {\"t\":\"ü€😀\"}\n"

var framerWant = []string{"data: a", "", "data: b", ": comment", "data: {\"t\":\"ü€😀\"}"}

func feedAll(f *LineFramer, chunks ...string) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, f.Feed([]byte(c))...)
	}
	return out
}

func TestLineFramerWhole(t *testing.T) {
	got := feedAll(NewLineFramer(), framerInput)
	if !reflect.DeepEqual(got, framerWant) {
		t.Fatalf("lines = %q, want %q", got, framerWant)
	}
}

func TestLineFramerEverySplitPoint(t *testing.T) {
	for i := 0; i <= len(framerInput); i++ {
		got := feedAll(NewLineFramer(), framerInput[:i], framerInput[i:])
		if !reflect.DeepEqual(got, framerWant) {
			t.Fatalf("split at %d: lines = %q, want %q", i, got, framerWant)
		}
	}
}

func TestLineFramerEveryChunkSize(t *testing.T) {
	for size := 1; size <= len(framerInput); size++ {
		f := NewLineFramer()
		var got []string
		for start := 0; start < len(framerInput); start += size {
			end := start + size
			if end > len(framerInput) {
				end = len(framerInput)
			}
			got = append(got, f.Feed([]byte(framerInput[start:end]))...)
		}
		if len(got) != len(framerWant) {
			t.Fatalf("chunk size %d: got %d lines, want %d", size, len(got), len(framerWant))
		}
		if !reflect.DeepEqual(got, framerWant) {
			t.Fatalf("chunk size %d: lines = %q", size, got)
		}
		if rest, ok := f.Flush(); ok {
			t.Errorf("chunk size %d: %q left buffered", size, rest)
		}
	}
}

func TestLineFramerSplitMultiByteRune(t *testing.T) {
	input := "data: é€\n"
	for i := 0; i <= len(input); i++ {
		got := feedAll(NewLineFramer(), input[:i], input[i:])
		if len(got) != 1 || got[0] != "data: é€" {
			t.Fatalf("split at %d: lines = %q", i, got)
		}
		if strings.ContainsRune(got[0], utf8.RuneError) {
			t.Fatalf("split at %d produced a replacement character", i)
		}
	}
}

func TestLineFramerInvalidBytesReplaced(t *testing.T) {
	got := feedAll(NewLineFramer(), "data: \xffx\n")
	if len(got) != 1 || got[0] != "data: \uFFFDx" {
		t.Fatalf("lines = %q", got)
	}
}

func TestLineFramerHoldsPartialLine(t *testing.T) {
	f := NewLineFramer()
	if got := f.Feed([]byte("data: par")); len(got) != 0 {
		t.Fatalf("unexpected lines %q", got)
	}
	got := f.Feed([]byte("tial\n"))
	if len(got) != 1 || got[0] != "data: partial" {
		t.Fatalf("lines = %q", got)
	}
}

func TestLineFramerFlush(t *testing.T) {
	f := NewLineFramer()
	f.Feed([]byte("data: one\ndata: tail  "))

	line, ok := f.Flush()
	if !ok || line != "data: tail" {
		t.Fatalf("Flush = %q, %v", line, ok)
	}
	if _, ok := f.Flush(); ok {
		t.Error("second Flush should find nothing")
	}

	f.Feed([]byte("  \r"))
	if _, ok := f.Flush(); ok {
		t.Error("whitespace-only remainder should not flush")
	}
}

func TestPayload(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"data: {\"a\":1}", "{\"a\":1}", true},
		{"data: [DONE]", "[DONE]", true},
		{"data: ", "", true},
		{"", "", false},
		{": keep-alive", "", false},
		{"event: message_start", "", false},
		{"data:{\"a\":1}", "", false},
		{"id: 7", "", false},
	}
	for _, tt := range tests {
		got, ok := Payload(tt.line)
		if ok != tt.ok || string(got) != tt.want {
			t.Errorf("Payload(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}
