package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aicycles.ai/internal/protocol"
)

func TestRecorder_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")
	r := NewRecorder(dir, "m1", nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	msgs := []struct {
		dir string
		m   protocol.Message
	}{
		{DirIn, protocol.MapInfo{Width: 5, Height: 5, Players: 2}},
		{DirIn, protocol.Handshake{Name: "server"}},
		{DirOut, protocol.Handshake{Name: "joe"}},
		{DirIn, protocol.Unknown{Type: 777, Data: "opaque \"quoted\""}},
		{DirOut, protocol.Turn{Dir: protocol.West}},
		{DirIn, protocol.Update{}},
	}
	for _, tc := range msgs {
		if tc.dir == DirIn {
			r.Received(tc.m)
		} else {
			r.Sent(tc.m)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Seq() != int64(len(msgs)) || r.Err() != nil {
		t.Fatalf("seq=%d err=%v", r.Seq(), r.Err())
	}
	if r.Path() != filepath.Join(dir, "match-m1.jsonl.zst") {
		t.Fatalf("path: got %q", r.Path())
	}

	var got []Entry
	if err := ReadRecording(r.Path(), func(e Entry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadRecording: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("entries: got %d want %d", len(got), len(msgs))
	}
	for i, e := range got {
		if e.Seq != int64(i+1) || e.Dir != msgs[i].dir || !e.At.Equal(at) {
			t.Fatalf("entry %d: %+v", i, e)
		}
		m, err := e.Message()
		if err != nil {
			t.Fatalf("entry %d: Message: %v", i, err)
		}
		if m != msgs[i].m {
			t.Fatalf("entry %d: got %#v want %#v", i, m, msgs[i].m)
		}
	}
}

func TestReadRecording_StopsOnCallbackError(t *testing.T) {
	r := NewRecorder(t.TempDir(), "m2", nil)
	for i := 0; i < 3; i++ {
		r.Received(protocol.Update{Tick: i + 1})
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	stop := errors.New("stop")
	calls := 0
	err := ReadRecording(r.Path(), func(Entry) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("got err=%v calls=%d", err, calls)
	}
}

func TestRecorder_WriteFailureDisablesRecording(t *testing.T) {
	base := t.TempDir()
	// A regular file where the recording directory should be.
	blocker := filepath.Join(base, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := NewRecorder(blocker, "m3", nil)
	r.Received(protocol.Update{})
	r.Received(protocol.Update{})
	if r.Err() == nil || r.Seq() != 0 {
		t.Fatalf("seq=%d err=%v", r.Seq(), r.Err())
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close after failure: %v", err)
	}
}

func TestReadRecording_MissingFile(t *testing.T) {
	err := ReadRecording(filepath.Join(t.TempDir(), "nope.jsonl.zst"), func(Entry) error { return nil })
	if !os.IsNotExist(err) {
		t.Fatalf("got %v want not-exist", err)
	}
}
