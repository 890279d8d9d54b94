// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command clcache is a compile-invocation cache for cl.exe.
//
// It wraps a compiler command, fingerprints the inputs and either replays
// previously recorded outputs or runs the real compiler and records the
// results:
//
//	clcache run -- cl.exe /c foo.cpp /Fo:out\
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/charmbracelet/log"
	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"

	"go.chromium.org/infra/build/clcache/cache/localcache"
	"go.chromium.org/infra/build/clcache/config"
	"go.chromium.org/infra/build/clcache/execute"
	"go.chromium.org/infra/build/clcache/execute/localexec"
	"go.chromium.org/infra/build/clcache/filetracker"
	"go.chromium.org/infra/build/clcache/wrapper"
)

func getApplication() *cli.Application {
	return &cli.Application{
		Name:  "clcache",
		Title: "clcache is a compile-invocation cache for cl.exe.",
		Context: func(ctx context.Context) context.Context {
			return ctx
		},
		Commands: []*subcommands.Command{
			cmdRun(),
			cmdVersion(),
			subcommands.CmdHelp,
		},
	}
}

func main() {
	// FileTracker must not see the cache's own file traffic as build
	// dependencies.
	filetracker.SuspendTracking()
	defer filetracker.ResumeTracking()
	os.Exit(subcommands.Run(getApplication(), os.Args[1:]))
}

func cmdRun() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "run -- <compiler> [args...]",
		ShortDesc: "runs a compiler command through the cache",
		LongDesc: "Runs a compiler command through the cache. " +
			"Unsupported invocations fall back to running the compiler directly.",
		CommandRun: func() subcommands.CommandRun {
			r := &runRun{}
			r.Flags.BoolVar(&r.verbose, "v", false, "verbose logging")
			return r
		},
	}
}

type runRun struct {
	subcommands.CommandRunBase
	verbose bool
}

func (c *runRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if c.verbose {
		log.SetLevel(log.DebugLevel)
	}
	if len(args) == 0 {
		fmt.Fprintf(a.GetErr(), "%s: run needs a compiler command\n", a.GetName())
		return 2
	}
	cfg := config.Load()
	if !cfg.Disable {
		store, err := localcache.New(cfg.CacheDir)
		if err != nil {
			log.Warnf("failed to open cache at %s: %v", cfg.CacheDir, err)
		} else {
			r := &wrapper.Runner{Store: store, Compress: cfg.Compress}
			if code, handled := r.HandleCommand(ctx, wrapper.NewMSVCWrapper(args)); handled {
				return int(code)
			}
		}
	}
	return runDirect(ctx, args)
}

// runDirect runs the compiler without caching. Tracking suppression is
// released first so the build system sees the outputs of the direct run.
func runDirect(ctx context.Context, args []string) int {
	filetracker.ReleaseSuppression()
	cmd := &execute.Cmd{Args: args}
	err := localexec.Run(ctx, cmd)
	os.Stdout.Write(cmd.Stdout())
	os.Stderr.Write(cmd.Stderr())
	res, err := localexec.ResultOf(cmd, err)
	if err != nil {
		log.Errorf("failed to run %q: %v", args, err)
		return 1
	}
	return int(res.ExitCode)
}

func cmdVersion() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "version",
		ShortDesc: "prints the executable version",
		CommandRun: func() subcommands.CommandRun {
			return &versionRun{}
		},
	}
}

type versionRun struct {
	subcommands.CommandRunBase
}

func (c *versionRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		fmt.Fprintln(a.GetErr(), "no build info")
		return 1
	}
	fmt.Printf("clcache %s %s\n", buildInfo.Main.Version, buildInfo.GoVersion)
	return 0
}
