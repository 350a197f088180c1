// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

package unwind

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestFirstFrameCarriesCapturedIP(t *testing.T) {
	cur := NewCursor(0xdead, 0, 0)
	f, ok := cur.Step()
	require.True(t, ok)
	require.EqualValues(t, 0xdead, f.IP)
}

// TestStackWalkerBound exercises the invariant from spec.md §8: for any
// input with fp < sp, fp - sp >= StackBound, or fp == 0, the walker emits
// at most one frame (the synthetic first frame carrying the captured ip).
func TestStackWalkerBound(t *testing.T) {
	const sp = uintptr(0x1000)

	cases := []struct {
		name string
		fp   uintptr
	}{
		{"zero fp", 0},
		{"fp below sp", sp - 0x10},
		{"fp equal to sp", sp},
		{"fp exactly at bound", sp + StackBound},
		{"fp far beyond bound", sp + StackBound*4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cur := NewCursor(0x1234, tc.fp, sp)
			var frames [MaxStackDepth]Frame
			n := Walk(cur, frames[:])
			require.LessOrEqual(t, n, 1)
		})
	}
}

// cyclicFrame is a saved-frame record whose saved fp points back at
// itself. It is a package-level variable so its address never moves.
var cyclicFrame [2]uintptr

func TestWalkRespectsMaxStackDepth(t *testing.T) {
	// A self-referential frame pointer would walk forever without the
	// depth cap: sp sits just below the cyclic frame, so every bound check
	// passes and only MaxStackDepth stops the walk.
	fp := uintptr(unsafe.Pointer(&cyclicFrame))
	cyclicFrame[0], cyclicFrame[1] = fp, 0x42
	deep := make([]Frame, MaxStackDepth+8)
	require.Equal(t, MaxStackDepth, Walk(NewCursor(0x1, fp, fp-16), deep))

	// Walk also never writes past len(dst).
	cur := NewCursor(0x1, 0, 0)
	dst := make([]Frame, 4)
	n := Walk(cur, dst)
	require.LessOrEqual(t, n, len(dst))
}

func TestCanAdvanceBoundary(t *testing.T) {
	const sp = uintptr(0x2000)
	c := Cursor{fp: sp + StackBound - 1, originalSP: sp}
	require.True(t, c.canAdvance())
	c.fp = sp + StackBound
	require.False(t, c.canAdvance())
}
