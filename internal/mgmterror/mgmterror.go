// SPDX-License-Identifier: LGPL-2.1-only

// Package mgmterror implements the tagged error taxonomy from spec.md §7:
// every failing operation returns an {origin, kind, reason, optional XML
// detail} error, translated into NETCONF <rpc-error> or a RESTCONF errors
// object at the protocol boundary. It plays the same role as the teacher's
// github.com/danos/mgmterror for the core's own error taxonomy.
package mgmterror

import "fmt"

// Origin identifies which subsystem raised the error.
type Origin string

const (
	OriginXML      Origin = "XML"
	OriginYANG     Origin = "YANG"
	OriginDB       Origin = "DB"
	OriginPROTO    Origin = "PROTO"
	OriginNETCONF  Origin = "NETCONF"
	OriginRESTCONF Origin = "RESTCONF"
	OriginCFG      Origin = "CFG"
	OriginUNIX     Origin = "UNIX"
	OriginPLUGIN   Origin = "PLUGIN"
)

// Tag is the NETCONF <error-tag> taxonomy from spec.md §4.4.
type Tag string

const (
	TagInUse                 Tag = "in-use"
	TagInvalidValue          Tag = "invalid-value"
	TagTooBig                Tag = "too-big"
	TagMissingAttribute      Tag = "missing-attribute"
	TagBadAttribute          Tag = "bad-attribute"
	TagUnknownAttribute      Tag = "unknown-attribute"
	TagMissingElement        Tag = "missing-element"
	TagBadElement            Tag = "bad-element"
	TagUnknownElement        Tag = "unknown-element"
	TagUnknownNamespace      Tag = "unknown-namespace"
	TagAccessDenied          Tag = "access-denied"
	TagLockDenied            Tag = "lock-denied"
	TagResourceDenied        Tag = "resource-denied"
	TagRollbackFailed        Tag = "rollback-failed"
	TagDataExists            Tag = "data-exists"
	TagDataMissing           Tag = "data-missing"
	TagOperationNotSupported Tag = "operation-not-supported"
	TagOperationFailed       Tag = "operation-failed"
	TagMalformedMessage      Tag = "malformed-message"
)

// Severity is the NETCONF <error-severity>.
type Severity string

const (
	SevError   Severity = "error"
	SevWarning Severity = "warning"
)

// Error is a single tagged management error.
type Error struct {
	Origin    Origin
	Tag       Tag
	Severity  Severity
	Message   string
	Path      string
	Info      string // raw XML <error-info> detail, optional
	SessionID int     // populated for lock-denied
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s (%s)", e.Origin, e.Tag, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s: %s", e.Origin, e.Tag, e.Message)
}

// New constructs an error-severity Error.
func New(origin Origin, tag Tag, message string) *Error {
	return &Error{Origin: origin, Tag: tag, Severity: SevError, Message: message}
}

// LockDenied builds the lock-denied error spec.md's scenario 3 requires,
// carrying the owning session id so the client can report who holds it.
func LockDenied(sessionID int) *Error {
	return &Error{
		Origin: OriginNETCONF, Tag: TagLockDenied, Severity: SevError,
		Message: "lock is already held", SessionID: sessionID,
	}
}

// HelloBeforeRPC builds the exact error spec.md's Hello-before-RPC scenario
// (§8 scenario 1) demands, verbatim.
func HelloBeforeRPC() *Error {
	return &Error{
		Origin: OriginNETCONF, Tag: TagOperationFailed, Severity: SevError,
		Message: "Client must send an hello element before any RPC",
	}
}

// List aggregates errors from multiple plugin callbacks invoked in a
// single transaction phase (§4.2); it implements error so it can be
// returned and logged like any other error.
type List []*Error

func (l List) Error() string {
	if len(l) == 0 {
		return ""
	}
	if len(l) == 1 {
		return l[0].Error()
	}
	s := fmt.Sprintf("%d errors:", len(l))
	for _, e := range l {
		s += "\n  " + e.Error()
	}
	return s
}

// HTTPStatus maps a Tag onto the RESTCONF HTTP status per spec.md §7.
func HTTPStatus(tag Tag) int {
	switch tag {
	case TagMalformedMessage, TagBadElement, TagBadAttribute, TagInvalidValue:
		return 400
	case TagAccessDenied:
		return 403
	case TagDataMissing, TagUnknownElement:
		return 404
	case TagDataExists, TagInUse:
		return 409
	case TagOperationFailed:
		return 412
	case TagTooBig:
		return 413
	default:
		return 500
	}
}
