// SPDX-License-Identifier: LGPL-2.1-only

// Package ncframe implements the NETCONF Framer from spec.md §4.3: the
// byte-stream-to-message-boundary state machine for both v1.0
// end-of-message framing and RFC 6242 v1.1 chunked framing, upgrading
// from the former to the latter once hello negotiation selects it. The
// chunk header grammar and reader/writer split are grounded in
// nemith-netconf/transport/frame.go's chunkedReader/chunkedWriter, adapted
// from a client transport into a server-facing single-stream framer that
// reads one whole message at a time instead of handing back an
// io.ReadCloser per message.
package ncframe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Mode is the active framing discipline for one connection.
type Mode int

const (
	ModeEOM Mode = iota
	ModeChunked
)

var eomTerminator = []byte("]]>]]>")
var endOfChunks = []byte("\n##\n")

// ErrMalformedChunk is returned for any chunk header violating RFC 6242
// §4.2; per spec.md §4.3 this is always fatal — the caller must terminate
// the session.
var ErrMalformedChunk = errors.New("ncframe: malformed chunk header")

// ErrUnterminatedMessage is returned when an EOM stream reaches EOF with
// an unterminated trailing fragment, also fatal per spec.md §4.3.
var ErrUnterminatedMessage = errors.New("ncframe: unterminated message at EOF")

// Framer turns a byte stream into discrete NETCONF messages. It is not
// safe for concurrent ReadMessage calls, nor concurrent WriteMessage
// calls, but a single reader and a single writer may run concurrently
// with each other (one per connection goroutine direction).
type Framer struct {
	br *bufio.Reader
	bw *bufio.Writer

	mu   sync.Mutex
	mode Mode
}

// New wraps r/w in EOM mode, the mandatory initial mode for any new
// connection per spec.md §4.3.
func New(r io.Reader, w io.Writer) *Framer {
	return &Framer{br: bufio.NewReader(r), bw: bufio.NewWriter(w)}
}

// Upgrade switches the framer to chunked mode. Called once, after hello
// negotiation determines both peers advertised base:1.1.
func (f *Framer) Upgrade() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = ModeChunked
}

// Mode reports the framer's current mode.
func (f *Framer) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// ReadMessage reads one complete message. It blocks until a full frame is
// available or the stream ends or a framing error occurs; any non-nil,
// non-io.EOF error is fatal to the session per spec.md §4.3.
func (f *Framer) ReadMessage() ([]byte, error) {
	f.mu.Lock()
	mode := f.mode
	f.mu.Unlock()

	if mode == ModeChunked {
		return f.readChunked()
	}
	return f.readEOM()
}

// readByteSkippingNUL reads the next byte, silently discarding any NUL
// byte encountered first — the "nine-byte NUL character" terminal
// artifact spec.md §4.3 calls out.
func (f *Framer) readByteSkippingNUL() (byte, error) {
	for {
		b, err := f.br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == 0x00 {
			continue
		}
		return b, nil
	}
}

func (f *Framer) readEOM() ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := f.readByteSkippingNUL()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if buf.Len() > 0 {
					return nil, ErrUnterminatedMessage
				}
				return nil, io.EOF
			}
			return nil, err
		}
		buf.WriteByte(b)
		if buf.Len() >= len(eomTerminator) && bytes.HasSuffix(buf.Bytes(), eomTerminator) {
			msg := buf.Bytes()[:buf.Len()-len(eomTerminator)]
			return append([]byte(nil), msg...), nil
		}
	}
}

func (f *Framer) readChunked() ([]byte, error) {
	var buf bytes.Buffer
	for {
		size, err := f.readChunkHeader()
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return buf.Bytes(), nil
		}
		if _, err := io.CopyN(&buf, f.br, int64(size)); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// readChunkHeader reads one "\n#<size>\n" header, or detects the
// terminating "\n##\n" and returns size 0.
func (f *Framer) readChunkHeader() (uint32, error) {
	b1, err := f.readByteSkippingNUL()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	if b1 != '\n' {
		return 0, ErrMalformedChunk
	}
	b2, err := f.br.ReadByte()
	if err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	if b2 != '#' {
		return 0, ErrMalformedChunk
	}

	line, err := f.br.ReadSlice('\n')
	if err != nil {
		return 0, ErrMalformedChunk
	}
	digits := line[:len(line)-1]
	if len(digits) == 1 && digits[0] == '#' {
		return 0, nil
	}
	if len(digits) == 0 {
		return 0, ErrMalformedChunk
	}
	var size uint64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, ErrMalformedChunk
		}
		size = size*10 + uint64(c-'0')
		if size > 0xFFFFFFFF {
			return 0, ErrMalformedChunk
		}
	}
	if size == 0 {
		return 0, ErrMalformedChunk
	}
	return uint32(size), nil
}

// WriteMessage writes data as one complete frame in the framer's current
// mode and flushes.
func (f *Framer) WriteMessage(data []byte) error {
	f.mu.Lock()
	mode := f.mode
	f.mu.Unlock()

	if mode == ModeChunked {
		return f.writeChunked(data)
	}
	return f.writeEOM(data)
}

func (f *Framer) writeEOM(data []byte) error {
	if _, err := f.bw.Write(data); err != nil {
		return err
	}
	if _, err := f.bw.Write(eomTerminator); err != nil {
		return err
	}
	return f.bw.Flush()
}

// maxChunkSize bounds a single chunk's size (1 MiB); larger payloads are
// split into multiple chunks.
const maxChunkSize = 1 << 20

func (f *Framer) writeChunked(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxChunkSize {
			n = maxChunkSize
		}
		if _, err := fmt.Fprintf(f.bw, "\n#%d\n", n); err != nil {
			return err
		}
		if _, err := f.bw.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	if _, err := f.bw.Write(endOfChunks); err != nil {
		return err
	}
	return f.bw.Flush()
}
