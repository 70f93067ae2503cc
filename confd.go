// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package confd holds the ambient types threaded through every frontend
// and the backend: the per-connection Context, the daemon-wide Config,
// and two reserved pseudo-session ids. Adapted from the teacher's
// configd.go of the same shape; Auth/ACM machinery is dropped since
// command authorization is not part of this engine's scope.
package confd

import (
	"github.com/clicon-go/confd/internal/editengine"
	"github.com/clicon-go/confd/internal/logging"
	"github.com/clicon-go/confd/internal/paginator"
	"github.com/clicon-go/confd/internal/plugin"
	"github.com/clicon-go/confd/internal/store"
	"github.com/clicon-go/confd/internal/txn"
)

// SessionID identifies a NETCONF/IPC session. The two negative values are
// reserved pseudo-sessions, mirroring the teacher's LockId (COMMIT for a
// commit, SYSTEM for startup loading); no code path in this module takes
// a lock or runs a request under either of them.
type SessionID int32

const (
	COMMIT SessionID = -1
	SYSTEM SessionID = -2
)

func (l SessionID) String() string {
	switch l {
	case COMMIT:
		return "commit"
	case SYSTEM:
		return "system"
	}
	return "session"
}

// Context is the per-connection state every dispatcher/backend handler
// closes over: which engines it talks to, the loggers to use, and the
// identity of the session it is serving.
type Context struct {
	SessionID SessionID
	Superuser bool
	Config    *Config
	Loggers   *logging.Loggers
	Store     *store.Store
	Txn       *txn.Engine
	Registry  *plugin.Registry
	Paginator *paginator.Paginator
}

// EditRequest is a convenience constructor for an editengine.Request
// carrying target, defOp and opt; no field of the context is consulted.
func (c *Context) EditRequest(target string, defOp store.EditOp, opt editengine.TestOption) editengine.Request {
	return editengine.Request{Target: target, DefaultOperation: defOp, TestOption: opt}
}

// Config is the daemon-wide configuration surface, named after the
// CLICON_* option set (spec.md §6). cmd/confd fills only the fields its
// command-line flags set; there is no option=value override syntax.
type Config struct {
	XMLDBDir                  string
	XMLDBFormat               string // "xml" or "json"
	XMLDBPretty               bool
	Socket                    string
	SockFamily                string // "UNIX", "IPv4", "IPv6"
	YangDir                   []string
	NetconfHelloOptional      bool
	NetconfBaseCapability     int // 0 or 1
	RestconfStartupDontUpdate bool
	Pidfile                   string
	Logfile                   string
}
