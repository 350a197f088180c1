// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "preparing", Preparing.String())
	require.Equal(t, "sampling", Sampling.String())
	require.Equal(t, "processing", Processing.String())
	require.Equal(t, "unknown", State(99).String())
}

func TestPreconditionPassesSilently(t *testing.T) {
	require.NotPanics(t, func() {
		Precondition(true, "unreachable")
	})
}

func TestPreconditionPanicsWithFormattedMessage(t *testing.T) {
	require.PanicsWithValue(t, "state is processing, want idle", func() {
		Precondition(false, "state is %s, want %s", Processing, Idle)
	})
}
