// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Package diag holds the sampler's diagnostic toggles and structured
// logging setup. Every toggle is read from its environment variable
// exactly once, the first time it is asked for; the signal handler itself
// never consults these, since it is plain C with no access to os.Getenv.
package diag

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Env var names, unchanged from the original's diagnostic surface.
const (
	EnvUnsafeDebugAPI = "SWIPR_ENABLE_UNSAFE_DEBUG_API"
	EnvUnwinding      = "SWIPR_ENABLE_UNWINDING"
	EnvUnwindInfo     = "SWIPR_ENABLE_UNWIND_INFO"
)

// EnvToggle reads a boolean environment variable exactly once and caches
// the result, matching the original's "read once at startup" semantics for
// these three knobs — they are deliberately not re-read per round, so a
// long-lived process can't have its diagnostic posture changed out from
// under an in-flight sample.
type EnvToggle struct {
	name string
	once sync.Once
	val  bool
}

// NewEnvToggle binds a toggle to the given environment variable name. The
// variable is not read until the first call to Enabled.
func NewEnvToggle(name string) *EnvToggle {
	return &EnvToggle{name: name}
}

// Enabled reports whether the toggle's environment variable is set to any
// non-empty value.
func (t *EnvToggle) Enabled() bool {
	t.once.Do(func() {
		t.val = os.Getenv(t.name) != ""
	})
	return t.val
}

var (
	// UnsafeDebugAPI enables verbose tracing of the public API entry
	// points (Initialize, RequestSample).
	UnsafeDebugAPI = NewEnvToggle(EnvUnsafeDebugAPI)
	// Unwinding enables verbose tracing of the rendezvous/unwind round:
	// one log line per claimed thread's capture outcome.
	Unwinding = NewEnvToggle(EnvUnwinding)
	// UnwindInfo enables verbose tracing of unwind-info decoding: one log
	// line per captured thread describing how many frames its walk
	// produced and why it stopped.
	UnwindInfo = NewEnvToggle(EnvUnwindInfo)
)

// Logger is the package-wide structured logger, configured once by this
// package's init. Every internal package logs through this instance rather
// than constructing its own. Its level is Debug so that the traces the
// toggles above gate are actually written.
var Logger = logrus.New()

func init() {
	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	Logger.SetLevel(logrus.DebugLevel)
}
