// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
ncgateway is the NETCONF frontend: one process per client connection,
normally invoked as an SSH netconf subsystem with stdin/stdout as the
NETCONF transport. It speaks hello negotiation and RPC framing itself
(internal/ncframe, internal/ncdispatch) and tunnels everything it can't
answer locally to confd over the IPC Channel.

Usage:
	-socketfile=<path>
		confd's IPC socket (default: /run/confd/main.sock).
	-logfile=<path>
		Diagnostic log destination; never stdout, which carries the
		NETCONF stream itself.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/clicon-go/confd/internal/codec"
	"github.com/clicon-go/confd/internal/ipc"
	"github.com/clicon-go/confd/internal/logging"
	"github.com/clicon-go/confd/internal/ncdispatch"
	"github.com/clicon-go/confd/internal/ncframe"
	"github.com/clicon-go/confd/internal/ncmsg"
	"github.com/clicon-go/confd/internal/plugin"

	"github.com/google/uuid"
)

var (
	socket  = flag.String("socketfile", "/run/confd/main.sock", "Path to confd's IPC socket.")
	logfile = flag.String("logfile", "", "Diagnostic log destination (default: stderr).")
)

var serverCapabilities = []string{
	ncmsg.CapBase10,
	ncmsg.CapBase11,
}

func openLogfile() io.Writer {
	if *logfile == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(*logfile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return os.Stderr
	}
	return f
}

func main() {
	flag.Parse()
	loggers := logging.New(openLogfile(), "ncgateway")

	uc, err := net.Dial("unix", *socket)
	if err != nil {
		loggers.Elog.Fatalf("dial %s: %v", *socket, err)
	}
	defer uc.Close()

	backend := newIPCBackend(ipc.NewConn(uc.(*net.UnixConn)))
	registry := plugin.NewRegistry()
	registry.Freeze()
	dispatcher := ncdispatch.NewDispatcher(registry, backend)

	// correlationID ties this gateway invocation's log lines together
	// across whatever multiplexes many ncgateway processes onto one
	// syslog destination (e.g. an SSH server spawning one subsystem per
	// session); it is not the NETCONF session-id, which the dispatcher
	// assigns only after hello negotiation succeeds.
	correlationID := uuid.NewString()

	sess := &ncdispatch.Session{
		Framer: ncframe.New(os.Stdin, os.Stdout),
		Codec:  codec.XML{},
	}

	ctx := context.Background()
	if err := dispatcher.ServeHello(ctx, sess, serverCapabilities); err != nil {
		loggers.Elog.Printf("%s: hello negotiation failed: %v", correlationID, err)
		os.Exit(1)
	}
	loggers.Dlog.Printf("%s: session %d negotiated", correlationID, sess.ID)

	for {
		if err := dispatcher.ServeRPC(ctx, sess); err != nil {
			loggers.Dlog.Printf("%s: session %d closing: %v", correlationID, sess.ID, err)
			return
		}
	}
}
