// Command ghdocs reads and writes CMS documents stored as JSON files in a
// GitHub repository, and publishes rendered artifacts to its pages branch.
//
// Configuration is read from ghdocs.jsonc, a .env file, the process
// environment and flags, in increasing order of precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "ghdocs: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
}

func printVersion(w io.Writer) {
	version, goVersion, revision, dirty := getBuildInfo()
	_, _ = fmt.Fprintf(w, "ghdocs %s\n", version)
	_, _ = fmt.Fprintf(w, "  Go version: %s\n", goVersion)
	_, _ = fmt.Fprintf(w, "  Revision:   %s\n", revision)
	if dirty {
		_, _ = fmt.Fprintf(w, "  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
