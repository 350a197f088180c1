// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

//go:build (linux || darwin) && (amd64 || arm64)

package rendezvous

/*
#include "rendezvous.h"
#include <signal.h>
*/
import "C"

import (
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/dayanruben/swift-profile-recorder/internal/semaphore"
)

// Capacity is the maximum number of threads one round can sample. It must
// match SWIPR_CAPACITY in rendezvous.h.
const Capacity = int(C.SWIPR_CAPACITY)

// Supported reports whether this build can install the rendezvous handler
// on the running platform/architecture.
const Supported = true

var savedAction C.struct_sigaction

// Install installs the profiling signal handler for signo (typically
// SIGPROF). It must be called exactly once, before the first sampling round.
func Install(signo int) error {
	if rc, errno := C.swipr_install_handler(C.int(signo), &savedAction); rc != 0 {
		return errors.Wrap(errno, "sigaction")
	}
	return nil
}

// Uninstall restores whatever signal action was in place before Install.
func Uninstall(signo int) error {
	if rc, errno := C.swipr_restore_handler(C.int(signo), &savedAction); rc != 0 {
		return errors.Wrap(errno, "sigaction restore")
	}
	return nil
}

// SetState transitions the round state. Only the controller goroutine may
// call this, and only in the sequence Idle -> Preparing -> Sampling ->
// Processing -> Idle, or Preparing -> Idle when a round is abandoned.
func SetState(s State) {
	C.swipr_set_state(C.int32_t(s))
}

// CurrentState returns the current round state.
func CurrentState() State {
	return State(C.swipr_get_state())
}

// ResetTable clears every slot that has not been leaked. Must only be
// called while the round state is Idle or Preparing, when no handler can
// be reading the table.
func ResetTable() {
	C.swipr_reset_table()
}

// ClaimSlot reserves the next free slot for tid, returning its index, or
// ok=false if the table is full (the caller reports the table as
// exhausted).
func ClaimSlot(tid int64) (index int, ok bool) {
	idx := int(C.swipr_claim_slot(C.int64_t(tid)))
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// Captured reports whether the handler has finished writing the frame for
// the slot at index.
func Captured(index int) bool {
	slot := C.swipr_slot(C.int(index))
	return slot.captured != 0
}

// Context returns the (ip, fp, sp) triple captured by the handler for the
// slot at index. Callers must only call this after Captured reports true.
func Context(index int) (ip, fp, sp uintptr) {
	slot := C.swipr_slot(C.int(index))
	return uintptr(slot.ip), uintptr(slot.fp), uintptr(slot.sp)
}

// ThreadID returns the thread ID claimed into the slot at index.
func ThreadID(index int) int64 {
	slot := C.swipr_slot(C.int(index))
	return int64(slot.tid)
}

// LeakSlot permanently retires the slot at index: ResetTable will never
// clear it and ClaimSlot will never reuse it. Callers reach for this only
// when a thread fails to acknowledge release within its deadline, since at
// that point the handler may still be reading the slot and reclaiming it
// would be a use-after-free.
func LeakSlot(index int) {
	C.swipr_leak_slot(C.int(index))
}

var (
	capSemOnce, relSemOnce sync.Once
	capSem, relSem         *semaphore.Semaphore
)

// captureSemaphore lazily wraps rendezvous.c's capture semaphore on first
// use. The underlying sem_t is allocated and destroyed by rendezvous.c,
// not by this Go handle, since swipr_handler posts to it directly;
// see semaphore.Wrap.
func captureSemaphore() *semaphore.Semaphore {
	capSemOnce.Do(func() {
		capSem = semaphore.Wrap(unsafe.Pointer(C.swipr_capture_sem()))
	})
	return capSem
}

func releaseSemaphore() *semaphore.Semaphore {
	relSemOnce.Do(func() {
		relSem = semaphore.Wrap(unsafe.Pointer(C.swipr_release_sem()))
	})
	return relSem
}

// WaitCapture blocks until one thread has posted its capture
// acknowledgement, or deadline passes.
func WaitCapture(deadline time.Time) (acquired bool, err error) {
	return captureSemaphore().WaitUntil(deadline)
}

// SignalRelease posts the release semaphore once, waking exactly one
// thread parked in the handler after a capture.
func SignalRelease() {
	releaseSemaphore().Signal()
}

// GetTID returns the calling goroutine's OS thread ID. The controller does
// not use it; it excludes its own thread via Platform.CurrentThreadID.
func GetTID() int64 {
	return int64(unix.Gettid())
}
