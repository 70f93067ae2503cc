// SPDX-License-Identifier: LGPL-2.1-only

package ncframe

import (
	"bytes"
	"io"
	"testing"
)

func TestReadEOMMessage(t *testing.T) {
	in := bytes.NewBufferString("<hello/>]]>]]>")
	f := New(in, io.Discard)
	msg, err := f.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg) != "<hello/>" {
		t.Fatalf("msg = %q, want <hello/>", msg)
	}
}

func TestReadEOMSkipsNUL(t *testing.T) {
	in := bytes.NewBuffer(append([]byte("<hello/>"), append([]byte{0x00}, []byte("]]>]]>")...)...))
	f := New(in, io.Discard)
	msg, err := f.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg) != "<hello/>" {
		t.Fatalf("msg = %q, want <hello/> (NUL should be skipped)", msg)
	}
}

func TestReadEOMUnterminatedIsFatal(t *testing.T) {
	in := bytes.NewBufferString("<hello/>")
	f := New(in, io.Discard)
	if _, err := f.ReadMessage(); err != ErrUnterminatedMessage {
		t.Fatalf("err = %v, want ErrUnterminatedMessage", err)
	}
}

func TestReadEOMCleanEOFBetweenMessages(t *testing.T) {
	in := bytes.NewBufferString("")
	f := New(in, io.Discard)
	if _, err := f.ReadMessage(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestWriteThenReadChunked(t *testing.T) {
	var buf bytes.Buffer
	w := New(nil, &buf)
	w.Upgrade()
	payload := []byte("<rpc message-id=\"1\"><get/></rpc>")
	if err := w.WriteMessage(payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	r := New(&buf, io.Discard)
	r.Upgrade()
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got = %q, want %q", got, payload)
	}
}

func TestChunkedMalformedHeaderIsFatal(t *testing.T) {
	in := bytes.NewBufferString("\n$5\nhello\n##\n")
	f := New(in, io.Discard)
	f.Upgrade()
	if _, err := f.ReadMessage(); err != ErrMalformedChunk {
		t.Fatalf("err = %v, want ErrMalformedChunk", err)
	}
}

func TestChunkedMultiChunkMessage(t *testing.T) {
	in := bytes.NewBufferString("\n#5\nhello\n#6\n world\n##\n")
	f := New(in, io.Discard)
	f.Upgrade()
	got, err := f.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got = %q, want %q", got, "hello world")
	}
}
