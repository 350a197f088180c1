// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Package unwind implements the frame-pointer stack walker: given a
// starting (ip, fp, sp) register triple captured from an interrupted
// thread, it produces a bounded sequence of frames by chasing the linked
// frame-pointer chain.
//
// This package never allocates on the stepping path, never performs a
// syscall, and never touches shared state: it is safe to run on the
// controller goroutine while mutator threads are parked, operating
// entirely on values copied out of the rendezvous table.
package unwind

// MaxStackDepth bounds the number of frames captured per thread per round.
const MaxStackDepth = 128

// StackBound is the largest distance, in bytes, a candidate frame pointer
// may be above the captured stack pointer before it is rejected. It
// matches the smallest stack size this sampler targets; callers wanting to
// support larger default stacks may raise it, but it must stay finite.
const StackBound = 128 * 1024

// Frame is one captured stack frame.
type Frame struct {
	IP uintptr
	FP uintptr
}

// Cursor walks a frame-pointer chain starting from a captured context.
// The zero Cursor is not usable; construct one with NewCursor.
type Cursor struct {
	fp         uintptr
	ip         uintptr
	originalSP uintptr
	emitted    int
	started    bool
}

// NewCursor constructs a cursor from a captured (ip, fp, sp) triple, as
// recorded by the signal handler at interrupt time.
func NewCursor(ip, fp, sp uintptr) Cursor {
	return Cursor{fp: fp, ip: ip, originalSP: sp}
}

// Step advances the cursor and returns the next frame. ok is false once
// the walk has terminated (either the bounds were violated, or the depth
// cap of MaxStackDepth was reached); no further calls to Step are useful
// after that.
//
// The first frame returned always carries the originally captured ip.
// Every subsequent frame's ip/fp are read via an unsafe machine-word
// dereference of the previous frame's fp, exactly as a native frame
// pointer unwinder does; the bounds below are the only thing standing
// between this and dereferencing arbitrary memory belonging to a
// concurrently-running thread.
func (c *Cursor) Step() (Frame, bool) {
	if c.emitted >= MaxStackDepth {
		return Frame{}, false
	}

	if !c.started {
		c.started = true
		c.emitted++
		return Frame{IP: c.ip, FP: c.fp}, true
	}

	if !c.canAdvance() {
		return Frame{}, false
	}

	nextFP, nextIP, ok := readFrame(c.fp)
	if !ok {
		return Frame{}, false
	}
	c.fp, c.ip = nextFP, nextIP
	c.emitted++
	return Frame{IP: c.ip, FP: c.fp}, true
}

// canAdvance reports whether the current frame pointer satisfies every
// bound required before it may be dereferenced: non-null, below the stack
// (stacks grow down, so a valid fp is numerically above sp), and no
// farther than StackBound away from the captured stack pointer.
func (c *Cursor) canAdvance() bool {
	if c.fp == 0 {
		return false
	}
	if c.fp <= c.originalSP {
		return false
	}
	if c.fp-c.originalSP >= StackBound {
		return false
	}
	return true
}

// Walk drains a cursor into dst, returning the number of frames written.
// dst should be sized MaxStackDepth or smaller.
func Walk(cur Cursor, dst []Frame) int {
	n := 0
	for n < len(dst) {
		f, ok := cur.Step()
		if !ok {
			break
		}
		dst[n] = f
		n++
	}
	return n
}
