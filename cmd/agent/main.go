// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the agent's entry point: `agent run` (default),
// `agent validate <path>`, and `agent status` against a running agent's
// status endpoint.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"eventpipe/internal/bookmark"
	"eventpipe/internal/config"
	"eventpipe/internal/manager"
	"eventpipe/internal/metrics"
	"eventpipe/internal/obs"
	"eventpipe/internal/session"
)

const (
	exitOK = iota
	exitInvalidArgument
	exitInvalidConfig
	exitRuntimeError
)

func defaultConfigDir() string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\eventpipe`
	}
	return "/etc/eventpipe"
}

func configDir() string {
	if v := os.Getenv("KINESISTAP_CONFIG_DIR"); v != "" {
		return v
	}
	return defaultConfigDir()
}

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		os.Exit(runAgent(args))
	case "validate":
		os.Exit(runValidate(args))
	case "status":
		os.Exit(runStatus(args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want run, validate, or status)\n", cmd)
		os.Exit(exitInvalidArgument)
	}
}

func runValidate(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: agent validate <path>")
		return exitInvalidArgument
	}
	doc, err := config.Load(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitInvalidConfig
	}
	fmt.Printf("%s: valid (%d sources, %d sinks, %d pipes)\n", doc.Name, len(doc.Sources), len(doc.Sinks), len(doc.Pipes))
	return exitOK
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	statusAddr := fs.String("status-addr", "http://localhost:7801", "base URL of a running agent's status endpoint")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgument
	}

	resp, err := http.Get(*statusAddr + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return exitRuntimeError
	}
	defer resp.Body.Close()

	var snapshot []manager.Status
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		fmt.Fprintf(os.Stderr, "status: decode response: %v\n", err)
		return exitRuntimeError
	}
	if len(snapshot) == 0 {
		fmt.Println("no sessions running")
		return exitOK
	}
	for _, s := range snapshot {
		fmt.Printf("%s\tvalidated=%v\tsources=%d\tpipes=%d\tsinks=%d\t%s\n", s.Name, s.Validated, s.SourceCount, s.PipeCount, s.SinkCount, s.Path)
		for sinkID, region := range s.SinkRegions {
			fmt.Printf("\t%s: region=%s\n", sinkID, region)
		}
	}
	return exitOK
}

func runAgent(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgDir := fs.String("config-dir", configDir(), "directory holding the primary configuration and state")
	extraDir := fs.String("extra-configs-dir", "", "directory the session manager polls for additional session files (default <config-dir>/_extra-configs)")
	pollInterval := fs.Duration("discovery-interval", manager.DefaultInterval, "how often the session manager rescans extra-configs-dir")
	statusAddr := fs.String("status-addr", ":7801", "address the status HTTP endpoint listens on")
	metricsAddr := fs.String("metrics-addr", "", "if non-empty, expose Prometheus /metrics on this address")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgument
	}
	if *extraDir == "" {
		*extraDir = filepath.Join(*cfgDir, "_extra-configs")
	}
	if err := os.MkdirAll(*extraDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitRuntimeError
	}

	hub := metrics.NewHub()
	store, err := bookmark.Open(filepath.Join(*cfgDir, "bookmarks"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: open bookmark store: %v\n", err)
		return exitRuntimeError
	}
	if _, err := config.OpenParameterStore(filepath.Join(*cfgDir, "parameters")); err != nil {
		fmt.Fprintf(os.Stderr, "run: open parameter store: %v\n", err)
		return exitRuntimeError
	}

	reg := session.NewRegistry()
	mgr := manager.New(*extraDir, *pollInterval, reg, hub, store)

	var primary *session.Session
	primaryPath := filepath.Join(*cfgDir, "session.json")
	if doc, err := config.Load(primaryPath); err == nil {
		primary, err = session.Load(doc, reg, hub, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run: construct primary session: %v\n", err)
			return exitInvalidConfig
		}
		primary.Start()
	} else if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "run: load %s: %v\n", primaryPath, err)
		return exitInvalidConfig
	}

	if err := mgr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "run: start session manager: %v\n", err)
		return exitRuntimeError
	}

	var promExporter *metrics.PromExporter
	if *metricsAddr != "" {
		promExporter = metrics.NewPromExporter(hub)
		promExporter.Serve(*metricsAddr)
	}

	statusServer := startStatusServer(*statusAddr, mgr, primary)

	obs.Info("agent", "running, config-dir=%s extra-configs-dir=%s", *cfgDir, *extraDir)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	obs.Info("agent", "shutting down")
	if statusServer != nil {
		_ = statusServer.Close()
	}
	if promExporter != nil {
		_ = promExporter.Close()
	}
	mgr.Stop()
	if primary != nil {
		primary.Stop()
	}
	return exitOK
}

// startStatusServer exposes the "agent status" surface (SPEC_FULL.md's
// supplemented feature) over HTTP: the primary session plus every
// manager-tracked session's name, validated flag, and component counts.
func startStatusServer(addr string, mgr *manager.Manager, primary *session.Session) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snapshot := mgr.Snapshot()
		if primary != nil {
			snapshot = append([]manager.Status{{
				Path:        "session.json",
				Name:        primary.Name,
				Validated:   primary.Validated(),
				SourceCount: primary.SourceCount(),
				PipeCount:   primary.PipeCount(),
				SinkCount:   primary.SinkCount(),
				SinkRegions: primary.SinkRegions(),
			}}, snapshot...)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Error("agent", "status server: %v", err)
		}
	}()
	return srv
}
