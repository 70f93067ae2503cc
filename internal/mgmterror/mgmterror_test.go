// SPDX-License-Identifier: LGPL-2.1-only

package mgmterror

import (
	"strings"
	"testing"
)

func TestLockDeniedCarriesSessionID(t *testing.T) {
	err := LockDenied(42)
	if err.SessionID != 42 {
		t.Fatalf("SessionID = %d, want 42", err.SessionID)
	}
	if err.Tag != TagLockDenied {
		t.Fatalf("Tag = %q, want %q", err.Tag, TagLockDenied)
	}
}

func TestHelloBeforeRPCMessage(t *testing.T) {
	err := HelloBeforeRPC()
	want := "Client must send an hello element before any RPC"
	if err.Message != want {
		t.Fatalf("Message = %q, want %q", err.Message, want)
	}
}

func TestErrorStringIncludesPath(t *testing.T) {
	err := New(OriginDB, TagDataMissing, "no such entry")
	err.Path = "/interfaces/interface[name='eth0']"
	got := err.Error()
	if got == "" {
		t.Fatal("Error() returned empty string")
	}
	if !strings.Contains(got, err.Path) {
		t.Fatalf("Error() = %q, want it to include path %q", got, err.Path)
	}
}

func TestListErrorAggregation(t *testing.T) {
	l := List{
		New(OriginPLUGIN, TagOperationFailed, "plugin a failed"),
		New(OriginPLUGIN, TagOperationFailed, "plugin b failed"),
	}
	if l.Error() == "" {
		t.Fatal("List.Error() returned empty string for non-empty list")
	}
	if (List{}).Error() != "" {
		t.Fatal("empty List.Error() should be empty")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Tag]int{
		TagMalformedMessage: 400,
		TagAccessDenied:     403,
		TagDataMissing:      404,
		TagDataExists:       409,
		TagOperationFailed:  412,
		TagTooBig:           413,
		TagRollbackFailed:   500,
	}
	for tag, want := range cases {
		if got := HTTPStatus(tag); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", tag, got, want)
		}
	}
}
