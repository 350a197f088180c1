// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

package rendezvous

// Snapshot is a read-only copy of one slot, taken after its handler has
// signaled the capture semaphore. It is safe to pass around and store;
// unlike the slot it was read from, nothing else writes to it.
type Snapshot struct {
	ThreadID int64
	IP, FP, SP uintptr
}

// Read returns a Snapshot for the slot at index. The caller must already
// know the slot was captured (via Captured) or is giving up on it (in
// which case the returned IP/FP/SP are meaningless and should not be
// unwound).
func Read(index int) Snapshot {
	tid := ThreadID(index)
	ip, fp, sp := Context(index)
	return Snapshot{ThreadID: tid, IP: ip, FP: fp, SP: sp}
}
