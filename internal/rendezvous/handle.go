// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import "time"

// Handle is a zero-size value satisfying the controller package's
// rendezvous dependency interface by forwarding to this package's
// process-wide functions. It exists because the rendezvous state, table,
// and semaphores are necessarily process-wide (the C signal handler can
// only ever see one of each), so there is nothing per-instance to hold;
// Handle just gives the controller something to call methods on instead
// of depending on rendezvous's free functions directly, which keeps it
// substitutable by a fake in tests.
type Handle struct{}

func (Handle) SetState(s State)    { SetState(s) }
func (Handle) CurrentState() State { return CurrentState() }
func (Handle) ResetTable()         { ResetTable() }

func (Handle) ClaimSlot(tid int64) (int, bool) { return ClaimSlot(tid) }
func (Handle) Captured(index int) bool         { return Captured(index) }
func (Handle) Context(index int) (uintptr, uintptr, uintptr) {
	return Context(index)
}
func (Handle) ThreadID(index int) int64 { return ThreadID(index) }
func (Handle) LeakSlot(index int)       { LeakSlot(index) }

func (Handle) WaitCapture(deadline time.Time) (bool, error) { return WaitCapture(deadline) }
func (Handle) SignalRelease()                               { SignalRelease() }
