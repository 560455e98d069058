// Package debug implements the lightweight, env-var gated tracing facility
// used across netbase's components (the buffer, record, logio, statekeeper
// and httpmsg packages all call into it). It is inert unless NETBASE_DEBUG
// or DEBUG_LOG is set, so it carries no cost on hot paths in production
// builds.
package debug

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

var opts struct {
	isEnabled bool
	logger    *log.Logger
	tags      map[string]bool
}

// make sure initialization happens before any package-level var that might
// call Log, cf https://golang.org/ref/spec#Package_initialization
var _ = initDebug()

func initDebug() bool {
	initDebugLogger()
	opts.tags = parseTags(os.Getenv("NETBASE_DEBUG"))

	if opts.logger == nil && len(opts.tags) == 0 {
		opts.isEnabled = false
		return false
	}

	opts.isEnabled = true
	fmt.Fprintf(os.Stderr, "netbase debug enabled\n")
	return true
}

func initDebugLogger() {
	debugfile := os.Getenv("DEBUG_LOG")
	if debugfile == "" {
		return
	}

	f, err := os.OpenFile(debugfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to open debug log file: %v\n", err)
		os.Exit(2)
	}

	opts.logger = log.New(f, "", log.LstdFlags)
}

func parseTags(env string) map[string]bool {
	tags := make(map[string]bool)
	if env == "" {
		return tags
	}
	for _, tag := range strings.Split(env, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags[tag] = true
		}
	}
	return tags
}

func tagEnabled(tag string) bool {
	return opts.tags["*"] || opts.tags["all"] || opts.tags[tag]
}

func getPosition() (file string, line int) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???", 0
	}
	return path.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file)), line
}

// Log writes a trace line tagged with the calling component (e.g. "buf",
// "record", "logio", "statekeeper", "http") when that component is listed
// in NETBASE_DEBUG, or unconditionally to DEBUG_LOG when set.
func Log(tag, f string, args ...interface{}) {
	if !opts.isEnabled {
		return
	}
	if !tagEnabled(tag) && opts.logger == nil {
		return
	}

	file, line := getPosition()
	if len(f) == 0 || f[len(f)-1] != '\n' {
		f += "\n"
	}
	msg := fmt.Sprintf("%s:%d [%s] %s", file, line, tag, fmt.Sprintf(f, args...))

	if opts.logger != nil {
		opts.logger.Print(msg)
	}
	if tagEnabled(tag) {
		fmt.Fprint(os.Stderr, msg)
	}
}
