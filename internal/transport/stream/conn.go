package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aicycles.ai/internal/protocol"
)

// ChunkSize is how much is read from the socket per receive step.
const ChunkSize = 1024

// Tap observes every message crossing the connection, in order.
type Tap interface {
	Received(m protocol.Message)
	Sent(m protocol.Message)
}

type Options struct {
	// DialTimeout bounds connection setup. Zero means no limit beyond ctx.
	DialTimeout time.Duration
	// ReadTimeout bounds each socket read. Zero blocks indefinitely, which is
	// what the arena protocol itself expects.
	ReadTimeout time.Duration

	Tap    Tap
	Logger logrus.FieldLogger
}

// Conn is the client's half of an arena connection. Sends and receives are
// expected from a single goroutine; Close may be called from any goroutine
// and makes a pending receive fail promptly.
type Conn struct {
	conn net.Conn
	dec  *protocol.Decoder
	opts Options
	log  logrus.FieldLogger

	chunk     []byte
	eof       bool
	discarded int // decoder drops already reported

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to addr ("host:port"). Failures are E_CONNECT.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrConnect, "dial "+addr, err)
	}
	return New(c, opts), nil
}

// New wraps an established stream.
func New(c net.Conn, opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Conn{
		conn:  c,
		dec:   protocol.NewDecoder(),
		opts:  opts,
		log:   logger.WithField("component", "stream"),
		chunk: make([]byte, ChunkSize),
	}
}

// Send writes m as one frame. A failed or zero-progress write is E_SEND.
func (c *Conn) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := writeAll(c.conn, b); err != nil {
		return protocol.NewError(protocol.ErrSend, "send "+m.Code().String(), err)
	}
	if c.opts.Tap != nil {
		c.opts.Tap.Sent(m)
	}
	c.log.WithField("code", int(m.Code())).Debugf("send %q", m.Body())
	return nil
}

// ReceiveBatch reads until a Handshake, Update or Goodbye has been decoded
// and returns every message up to and including it. Anything decoded after
// the terminator stays buffered for the next call.
//
// If the peer closes the stream first, the messages decoded so far are
// returned with a nil error and EOF reports true.
func (c *Conn) ReceiveBatch() ([]protocol.Message, error) {
	defer c.reportDiscarded()
	var batch []protocol.Message
	for {
		for {
			m, ok := c.dec.Next()
			if !ok {
				break
			}
			if c.opts.Tap != nil {
				c.opts.Tap.Received(m)
			}
			batch = append(batch, m)
			if m.Code().EndsBatch() {
				return batch, nil
			}
		}
		if c.eof {
			return batch, nil
		}
		n, err := c.read()
		if n > 0 {
			c.dec.Write(c.chunk[:n])
		}
		switch {
		case errors.Is(err, io.EOF) || (err == nil && n == 0):
			c.log.Debug("peer closed the stream")
			if rest := c.dec.Buffered(); rest > 0 {
				c.log.WithField("bytes", rest).Warn("stream ended inside a frame")
			}
			c.eof = true
		case err != nil:
			return batch, c.receiveError(err)
		}
	}
}

func (c *Conn) reportDiscarded() {
	if n := c.dec.Discarded(); n > c.discarded {
		c.log.WithFields(logrus.Fields{"lines": n - c.discarded, "total": n}).Warn("dropped lines that are not frames")
		c.discarded = n
	}
}

// Malformed counts frames whose body did not fit their code. They are
// delivered as protocol.Unknown.
func (c *Conn) Malformed() int { return c.dec.Malformed() }

// Discarded counts received lines that were not frames at all.
func (c *Conn) Discarded() int { return c.dec.Discarded() }

// EOF reports whether the peer has closed its side of the stream.
func (c *Conn) EOF() bool { return c.eof }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Conn) read() (int, error) {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	return c.conn.Read(c.chunk)
}

func (c *Conn) receiveError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return protocol.NewError(protocol.ErrTimeout, "receive", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return protocol.NewError(protocol.ErrTimeout, "receive", err)
	}
	return protocol.NewError(protocol.ErrReceive, "receive", err)
}

// writeAll writes the entirety of data to conn, returning an error if the
// write fails or makes no progress.
func writeAll(conn net.Conn, data []byte) error {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
