// SPDX-License-Identifier: LGPL-2.1-only

// Package ipc implements the IPC Channel from spec.md §4.5: a binary,
// length-prefixed request/reply protocol carrying NETCONF XML bodies
// between the ncgateway frontend and the confd backend over a Unix
// domain socket. The connection lifecycle (peer-credential retrieval via
// SO_PEERCRED, a per-connection receive loop, EOF-vs-fatal-error
// handling) is grounded in the teacher's server/conn.go SrvConn, whose
// JSON-RPC encoding is replaced by the fixed binary frame clixon_proto.c
// defines.
package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// headerSize is op_len(4) + op_id(4).
const headerSize = 8

// Frame is one decoded IPC message: an op_id (the NETCONF session id, or
// 0 for an asynchronous notification) plus its NUL-terminated NETCONF XML
// body (the trailing NUL is stripped before the caller sees it).
type Frame struct {
	OpID uint32
	Body []byte
}

// ErrMalformedFrame names a frame whose declared length does not exceed
// the header, or whose final body byte is not NUL. Receive does not
// return it: it reports such a frame as io.EOF, the same as a clean EOF
// on the connection.
var ErrMalformedFrame = errors.New("ipc: malformed frame")

// Conn wraps one IPC Channel connection. Reads and writes are each
// single-goroutine-safe; Send may be called concurrently with Receive,
// guarded by its own mutex, matching SrvConn's sending *sync.Mutex.
type Conn struct {
	uc      *net.UnixConn
	sendMu  sync.Mutex
	PeerUID uint32
	PeerPID int32
}

// NewConn wraps an established Unix socket connection.
func NewConn(uc *net.UnixConn) *Conn {
	return &Conn{uc: uc}
}

// LoadPeerCreds retrieves the connecting process's credentials via
// SO_PEERCRED, mirroring the teacher's getCreds.
func (c *Conn) LoadPeerCreds() error {
	f, err := c.uc.File()
	if err != nil {
		return err
	}
	defer f.Close()

	ucred, err := unix.GetsockoptUcred(int(f.Fd()), unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return fmt.Errorf("ipc: SO_PEERCRED: %w", err)
	}
	c.PeerUID = ucred.Uid
	c.PeerPID = ucred.Pid
	return nil
}

// isCleanEOF reports whether err is one of the connection-reset family
// spec.md §4.5 requires treating as a clean end-of-stream rather than a
// logged failure: ECONNRESET, EPIPE, EBADF, or io.EOF itself.
func isCleanEOF(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EBADF)
}

// retryTemporary retries op while it fails with EINTR/EAGAIN, the
// "atomic I/O" requirement of spec.md §4.5.
func retryTemporary(op func() (int, error)) (int, error) {
	for {
		n, err := op()
		if err == nil {
			return n, nil
		}
		if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
			continue
		}
		return n, err
	}
}

func readFull(conn *net.UnixConn, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := retryTemporary(func() (int, error) { return conn.Read(buf[read:]) })
		read += n
		if err != nil {
			return err
		}
		if n == 0 {
			return io.EOF
		}
	}
	return nil
}

// Receive reads one Frame. A nil, io.EOF return means the peer closed
// cleanly (including the ECONNRESET/EPIPE/EBADF/malformed-frame cases
// spec.md §4.5 folds into "treat as EOF"); any other error is a genuine
// I/O fault.
func (c *Conn) Receive() (*Frame, error) {
	var hdr [headerSize]byte
	if err := readFull(c.uc, hdr[:]); err != nil {
		if isCleanEOF(err) {
			return nil, io.EOF
		}
		return nil, err
	}
	opLen := binary.BigEndian.Uint32(hdr[0:4])
	opID := binary.BigEndian.Uint32(hdr[4:8])

	if opLen <= headerSize {
		return nil, io.EOF
	}
	body := make([]byte, opLen-headerSize)
	if err := readFull(c.uc, body); err != nil {
		if isCleanEOF(err) {
			return nil, io.EOF
		}
		return nil, err
	}
	if len(body) == 0 || body[len(body)-1] != 0x00 {
		return nil, io.EOF
	}
	return &Frame{OpID: opID, Body: body[:len(body)-1]}, nil
}

// Send writes one frame: opID plus body, NUL-terminated, length-prefixed.
func (c *Conn) Send(opID uint32, body []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var buf bytes.Buffer
	opLen := uint32(headerSize + len(body) + 1)
	binary.Write(&buf, binary.BigEndian, opLen)
	binary.Write(&buf, binary.BigEndian, opID)
	buf.Write(body)
	buf.WriteByte(0x00)

	out := buf.Bytes()
	written := 0
	for written < len(out) {
		n, err := retryTemporary(func() (int, error) { return c.uc.Write(out[written:]) })
		written += n
		if err != nil {
			if isCleanEOF(err) {
				return io.EOF
			}
			return err
		}
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.uc.Close()
}

// IsNotification reports whether f is an asynchronously pushed event
// (op_id 0) rather than a reply correlated to a session's request.
func (f *Frame) IsNotification() bool {
	return f.OpID == 0
}
