// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
confd is the backend daemon: it owns the datastores (running, candidate,
startup), drives the Transaction Engine on commit, and answers requests
tunnelled over the IPC Channel by the ncgateway frontend.

Usage:
	-socketfile=<path>
		Unix socket the daemon listens on (default: /run/confd/main.sock).
	-xmldbdir=<dir>
		Directory holding the running/candidate/startup datastore files.
	-xmldbformat=xml|json
		Wire format used for the on-disk datastore files.
	-logfile=<path>
		Redirect std{out,err} to the given file.
	-pidfile=<path>
		Write the daemon's pid to the given file.

	SIGUSR1
		Toggle CPU profiling; output goes to -cpuprofile.
*/
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"syscall"

	"github.com/coreos/go-systemd/v22/activation"

	"github.com/clicon-go/confd"
	"github.com/clicon-go/confd/internal/codec"
	"github.com/clicon-go/confd/internal/ipc"
	"github.com/clicon-go/confd/internal/logging"
	"github.com/clicon-go/confd/internal/paginator"
	"github.com/clicon-go/confd/internal/plugin"
	"github.com/clicon-go/confd/internal/store"
	"github.com/clicon-go/confd/internal/txn"
	"github.com/clicon-go/confd/internal/yang"
	"github.com/clicon-go/confd/rpc"
)

var basepath = "/run/confd"

var (
	cpuprofile = flag.String("cpuprofile", basepath+"/confd.pprof", "Write cpu profile to supplied file on SIGUSR1.")
	memprofile = flag.String("memprofile", basepath+"/confd_mem.pprof", "Write memory profile to specified file on SIGUSR2.")
	logfile    = flag.String("logfile", "", "Redirect std{out,err} to supplied file.")
	pidfile    = flag.String("pidfile", basepath+"/confd.pid", "Write pid to supplied file.")
	socket     = flag.String("socketfile", basepath+"/main.sock", "Path to the IPC socket.")
	xmldbdir   = flag.String("xmldbdir", basepath+"/db", "Directory holding datastore files.")
	xmldbfmt   = flag.String("xmldbformat", "xml", "Datastore wire format: xml or json.")

	runningProf bool
)

func fatal(loggers *logging.Loggers, err error) {
	if err == nil {
		return
	}
	loggers.Elog.Fatal(err)
}

func sigProfile() {
	sigch := make(chan os.Signal, 2)
	signal.Notify(sigch, syscall.SIGUSR1, syscall.SIGUSR2)
	for sig := range sigch {
		switch sig {
		case syscall.SIGUSR1:
			if !runningProf {
				f, err := os.Create(*cpuprofile)
				if err == nil {
					pprof.StartCPUProfile(f)
					runningProf = true
				}
			} else {
				pprof.StopCPUProfile()
				runningProf = false
			}
		case syscall.SIGUSR2:
			if f, err := os.Create(*memprofile); err == nil {
				pprof.WriteHeapProfile(f)
				f.Close()
			}
		}
	}
}

func openLogfile() io.Writer {
	if *logfile == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(*logfile, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0640)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return os.Stderr
	}
	return f
}

func writePid() {
	f, err := os.OpenFile(*pidfile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%d\n", os.Getpid())
}

// emptySchema is the pluggable Schema contract's placeholder: a YANG
// compiler is out of scope (spec.md §2 Non-goals), so the backend starts
// with a schema-less passthrough root and relies on whatever real
// yang.Schema implementation an operator's build wires in its place.
func emptySchema() yang.Schema {
	return yang.NewStaticSchema(yang.NodeDef{Name: "config", Kind: rpc.CONTAINER})
}

func getListener(loggers *logging.Loggers) net.Listener {
	listeners, err := activation.Listeners()
	fatal(loggers, err)
	if len(listeners) > 0 {
		return listeners[0]
	}

	os.Remove(*socket)
	ua, err := net.ResolveUnixAddr("unix", *socket)
	fatal(loggers, err)
	l, err := net.ListenUnix("unix", ua)
	fatal(loggers, err)
	os.Chmod(*socket, 0770)
	return l
}

func main() {
	debug.SetGCPercent(25)
	flag.Parse()

	loggers := logging.New(openLogfile(), "confd")
	fatal(loggers, os.MkdirAll(basepath, 0755))
	fatal(loggers, os.MkdirAll(*xmldbdir, 0755))

	go sigProfile()

	var c codec.Codec
	switch *xmldbfmt {
	case "json":
		c = codec.JSON{}
	default:
		c = codec.XML{}
	}

	st, err := store.New(*xmldbdir, emptySchema(), c)
	fatal(loggers, err)
	st.SetLoggers(loggers)
	for _, db := range []string{"running", "candidate", "startup"} {
		if !st.Exists(db) {
			st.Create(db)
		}
	}
	fatal(loggers, st.Populate("running"))
	st.Copy("running", "candidate")

	registry := plugin.NewRegistry()
	registry.Freeze()

	engine := txn.NewEngine(registry)
	engine.SetLoggers(loggers)

	pg := paginator.New()

	cfg := &confd.Config{
		XMLDBDir:    *xmldbdir,
		XMLDBFormat: *xmldbfmt,
		Socket:      *socket,
		Pidfile:     *pidfile,
		Logfile:     *logfile,
	}

	l := getListener(loggers)
	writePid()
	runtime.GC()
	debug.FreeOSMemory()

	loggers.Dlog.Printf("confd listening on %s", *socket)

	srv := &server{store: st, engine: engine, registry: registry, paginator: pg, cfg: cfg, loggers: loggers}
	for {
		uc, err := l.(*net.UnixListener).AcceptUnix()
		if err != nil {
			loggers.Elog.Println(err)
			continue
		}
		go srv.handle(ipc.NewConn(uc))
	}
}
