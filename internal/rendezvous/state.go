// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Package rendezvous implements the signal-based handshake between the
// controller goroutine and the mutator threads it samples. It owns the
// only pieces of process-wide state the signal handler itself touches: the
// round state word, the fixed slot table, and the semaphores used to
// acknowledge each phase.
//
// Everything the C signal handler reads or writes is backed by C memory so
// that no C type ever needs to cross a package boundary; internal/platform
// and internal/controller only ever see the Go-level API in this package.
package rendezvous

import "fmt"

// State is one stage of a sampling round. Only the controller goroutine
// ever transitions the round state; mutator threads, running inside the
// signal handler, only read it. The numeric values here must match the
// SWIPR_STATE_* constants in rendezvous.h exactly, since the handler reads
// the word as a plain C int.
type State int32

const (
	// Idle: no round in progress. The controller never raises the
	// profiling signal while idle; a handler that observes Idle, from a
	// late or spurious delivery, aborts the process.
	Idle State = iota
	// Preparing: the controller has reset the table and is claiming slots
	// before raising the profiling signal on every target thread. A
	// handler that observes Preparing aborts the process, as for Idle.
	Preparing
	// Sampling: the controller is waiting for capture acknowledgements. A
	// handler that observes Sampling captures its ip/fp/sp into its
	// claimed slot and signals the capture semaphore.
	Sampling
	// Processing: the controller has captured every slot it is going to
	// and is walking stacks; mutator threads are parked on the release
	// semaphore and must not resume until it is posted.
	Processing
)

// Precondition panics if cond is false. It is the Go-idiomatic equivalent
// of the original's swipr_precondition/abort(): a violation here means a
// caller broke the state machine's invariants, which is a programmer
// error, not a runtime condition a caller can recover from. The signal
// handler itself still calls C's abort() directly for the equivalent
// check on the sampled thread's own side, since panicking out of a
// handler that never entered the Go runtime is not an option.
func Precondition(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(msg, args...))
	}
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Sampling:
		return "sampling"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}
