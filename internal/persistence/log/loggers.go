package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"aicycles.ai/internal/protocol"
)

// JSONLZstdWriter appends JSON lines to a zstd-compressed file, creating the
// file and its directory on first write.
type JSONLZstdWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewJSONLZstdWriter(path string) *JSONLZstdWriter {
	return &JSONLZstdWriter{path: path}
}

func (w *JSONLZstdWriter) Path() string { return w.path }

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *JSONLZstdWriter) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 32*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		err1 = w.w.Flush()
	}
	if w.enc != nil {
		if err := w.enc.Close(); err1 == nil {
			err1 = err
		}
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err1 == nil {
			err1 = err
		}
		w.f = nil
	}
	w.w = nil
	return err1
}

// Direction of a recorded message relative to this client.
const (
	DirIn  = "in"
	DirOut = "out"
)

// Entry is one recorded wire message.
type Entry struct {
	Seq  int64     `json:"seq"`
	At   time.Time `json:"at"`
	Dir  string    `json:"dir"`
	Code int       `json:"code"`
	Body string    `json:"body"`
}

// Message decodes the entry back into a protocol message.
func (e Entry) Message() (protocol.Message, error) {
	return protocol.Parse(protocol.Code(e.Code), e.Body)
}

// RecordingPath is where a match's recording lives under dir.
func RecordingPath(dir, matchID string) string {
	return filepath.Join(dir, fmt.Sprintf("match-%s.jsonl.zst", matchID))
}

// Recorder writes every message crossing a connection to a compressed
// JSONL file. It satisfies the stream transport's Tap. A write failure is
// logged once and disables further recording; the match carries on.
type Recorder struct {
	w   *JSONLZstdWriter
	log logrus.FieldLogger
	now func() time.Time

	mu  sync.Mutex
	seq int64
	err error
}

func NewRecorder(dir, matchID string, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Recorder{
		w:   NewJSONLZstdWriter(RecordingPath(dir, matchID)),
		log: logger.WithField("component", "recorder"),
		now: time.Now,
	}
}

func (r *Recorder) Path() string { return r.w.Path() }

func (r *Recorder) Received(m protocol.Message) { r.record(DirIn, m) }
func (r *Recorder) Sent(m protocol.Message)     { r.record(DirOut, m) }

// Seq is the number of entries written so far.
func (r *Recorder) Seq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Err returns the write failure that stopped recording, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) Close() error { return r.w.Close() }

func (r *Recorder) record(dir string, m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	e := Entry{
		Seq:  r.seq + 1,
		At:   r.now().UTC(),
		Dir:  dir,
		Code: int(m.Code()),
		Body: m.Body(),
	}
	if err := r.w.Write(e); err != nil {
		r.err = err
		r.log.WithError(err).WithField("path", r.w.Path()).Error("recording stopped")
		return
	}
	r.seq = e.Seq
}

// ReadRecording calls fn for every entry of a recording, in order.
func ReadRecording(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 2*protocol.MaxFrameSize)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}
