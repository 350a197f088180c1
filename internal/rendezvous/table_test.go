// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

//go:build (linux || darwin) && (amd64 || arm64)

package rendezvous

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaimSlotAndReset(t *testing.T) {
	ResetTable()

	idx, ok := ClaimSlot(4242)
	require.True(t, ok)
	require.Equal(t, int64(4242), ThreadID(idx))
	require.False(t, Captured(idx))

	ResetTable()
	require.Equal(t, int64(0), ThreadID(idx))
}

func TestClaimSlotExhaustion(t *testing.T) {
	ResetTable()
	t.Cleanup(ResetTable)

	for i := 0; i < Capacity; i++ {
		_, ok := ClaimSlot(int64(i + 1))
		require.True(t, ok, "slot %d", i)
	}

	_, ok := ClaimSlot(99999)
	require.False(t, ok, "table should report exhaustion once every slot is claimed")
}

func TestRoundStateTransitions(t *testing.T) {
	SetState(Idle)
	require.Equal(t, Idle, CurrentState())

	for _, s := range []State{Preparing, Sampling, Processing, Idle} {
		SetState(s)
		require.Equal(t, s, CurrentState())
	}
}

func TestGetTIDIsPositive(t *testing.T) {
	require.Greater(t, GetTID(), int64(0))
}
