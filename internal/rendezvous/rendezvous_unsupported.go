// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

//go:build !((linux || darwin) && (amd64 || arm64))

package rendezvous

import (
	"time"

	"github.com/pkg/errors"
)

// Capacity mirrors the supported build's constant so callers can size
// buffers without a build-tag switch of their own.
const Capacity = 1024

// Supported reports whether this build can install the rendezvous handler
// on the running platform/architecture. It is false here: the frame
// pointer register layout, ucontext_t, and SA_SIGINFO delivery this
// package depends on are not available, or not yet implemented, on this
// combination.
const Supported = false

// ErrUnsupportedArch is returned by Install on a platform/architecture
// combination this package has no register-extraction support for.
var ErrUnsupportedArch = errors.New("rendezvous: unsupported platform/architecture")

func Install(signo int) error   { return ErrUnsupportedArch }
func Uninstall(signo int) error { return ErrUnsupportedArch }

func SetState(s State)    {}
func CurrentState() State { return Idle }
func ResetTable()         {}

func ClaimSlot(tid int64) (index int, ok bool) { return 0, false }
func Captured(index int) bool                  { return false }
func Context(index int) (ip, fp, sp uintptr)   { return 0, 0, 0 }
func ThreadID(index int) int64                 { return 0 }
func LeakSlot(index int)                       {}

func WaitCapture(deadline time.Time) (acquired bool, err error) {
	return false, ErrUnsupportedArch
}

func SignalRelease() {}

func GetTID() int64 { return 0 }
