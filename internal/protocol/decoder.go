package protocol

// MaxFrameSize bounds a single unterminated line. Anything longer cannot be a
// frame of this protocol and is dropped so the residual buffer stays bounded.
const MaxFrameSize = 64 * 1024

// Decoder turns an arbitrarily chunked byte stream into messages. Bytes are
// appended with Write; complete frames are taken with Next. Incomplete
// trailing data stays buffered until more bytes arrive.
//
// A frame is <3 digits><space><body> followed by one or more CR/LF bytes.
// Frames whose body does not fit the grammar of their code are returned as
// Unknown. Terminated lines that are not frames at all are skipped.
type Decoder struct {
	buf []byte
	off int // consumed prefix of buf

	malformed int
	discarded int
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 1024)}
}

// Write appends p to the residual buffer.
func (d *Decoder) Write(p []byte) {
	d.compact()
	d.buf = append(d.buf, p...)
}

// Next returns the next complete message. ok is false when the buffer holds
// no complete frame.
func (d *Decoder) Next() (m Message, ok bool) {
	for {
		d.skipSpace()
		rest := d.buf[d.off:]
		end := lineEnd(rest)
		if end < 0 {
			if len(rest) > MaxFrameSize {
				d.off = len(d.buf)
				d.discarded++
			}
			return nil, false
		}
		next := end
		for next < len(rest) && isLineByte(rest[next]) {
			next++
		}
		line := rest[:end]
		d.off += next

		code, body, isFrame := splitFrame(line)
		if !isFrame {
			d.discarded++
			continue
		}
		msg, err := Parse(code, body)
		if err != nil {
			d.malformed++
			msg = Unknown{Type: code, Data: body}
		}
		return msg, true
	}
}

// Feed writes p and drains every complete message.
func (d *Decoder) Feed(p []byte) []Message {
	d.Write(p)
	var out []Message
	for {
		m, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

// Buffered is the number of bytes waiting for the rest of their frame.
func (d *Decoder) Buffered() int { return len(d.buf) - d.off }

// Malformed counts frames with a known code whose body failed to parse.
func (d *Decoder) Malformed() int { return d.malformed }

// Discarded counts lines dropped because they were not frames.
func (d *Decoder) Discarded() int { return d.discarded }

func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.off:])
	d.buf = d.buf[:n]
	d.off = 0
}

func (d *Decoder) skipSpace() {
	for d.off < len(d.buf) {
		switch d.buf[d.off] {
		case ' ', '\t', '\r', '\n':
			d.off++
		default:
			return
		}
	}
}

// splitFrame checks the <3 digits><space><body> shape. A bare code with no
// separator is accepted as an empty body.
func splitFrame(line []byte) (Code, string, bool) {
	if len(line) < 3 || !isDigit(line[0]) || !isDigit(line[1]) || !isDigit(line[2]) {
		return 0, "", false
	}
	code := Code(int(line[0]-'0')*100 + int(line[1]-'0')*10 + int(line[2]-'0'))
	switch {
	case len(line) == 3:
		return code, "", true
	case line[3] == ' ':
		return code, string(line[4:]), true
	}
	return 0, "", false
}

func lineEnd(b []byte) int {
	for i, c := range b {
		if isLineByte(c) {
			return i
		}
	}
	return -1
}

func isLineByte(c byte) bool { return c == '\r' || c == '\n' }
func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
