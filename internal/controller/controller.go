// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Package controller drives one or more sampling rounds: for each round it
// enumerates threads, rendezvouses with every one of them via the signal
// handshake in internal/rendezvous, walks each captured stack, and hands
// the result to a Sink for emission. It never emits output itself, so it
// can be exercised against a fake Platform without touching real OS
// threads or the cgo signal path.
package controller

import (
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/dayanruben/swift-profile-recorder/internal/clock"
	"github.com/dayanruben/swift-profile-recorder/internal/diag"
	"github.com/dayanruben/swift-profile-recorder/internal/platform"
	"github.com/dayanruben/swift-profile-recorder/internal/rendezvous"
	"github.com/dayanruben/swift-profile-recorder/internal/unwind"
)

// Tunables carried over from the original's fixed deadlines.
const (
	// RoundTimeout bounds how long one round waits, in total, for every
	// claimed thread to acknowledge capture.
	RoundTimeout = 1 * time.Second
	// SecondAckTimeout bounds how long the round waits for each captured
	// thread's second acknowledgement after it has been released; a slot
	// whose second ack does not arrive in time is leaked.
	SecondAckTimeout = 100 * time.Millisecond
)

// Frame is one captured instruction pointer; re-exported so callers don't
// need to import internal/unwind directly.
type Frame = unwind.Frame

// ThreadStack is one captured thread's (possibly partial) stack within a
// round. Threads that were not captured get no ThreadStack; they are
// reported in Round.Diagnostics instead.
type ThreadStack struct {
	ThreadID platform.ThreadID
	Name     string
	Frames   []Frame
}

// Round is everything one sampling round produced.
type Round struct {
	Index     int
	StartedAt clock.Time
	Stacks    []ThreadStack
	// Diagnostics holds one message per thread that degraded (died mid-round,
	// failed to acknowledge, or could not be captured), meant for MESG lines,
	// never for aborting the round itself.
	Diagnostics []string
}

// Sink receives each completed round and the one-time image segment list.
// The emitter is the production Sink; tests can substitute a recording one.
type Sink interface {
	Segments(segs []platform.ImageSegment) error
	Round(r Round) error
}

// Controller runs sampling rounds against a Platform.
type Controller struct {
	plat platform.Platform
	clk  clock.Clock
	sem  rendezvousSemaphore
}

// rendezvousSemaphore is the subset of the rendezvous package's API the
// controller needs; narrowed to an interface so controller_test.go can
// substitute an in-memory fake instead of driving the process-wide
// rendezvous table and semaphores.
type rendezvousSemaphore interface {
	SetState(rendezvous.State)
	CurrentState() rendezvous.State
	ResetTable()
	ClaimSlot(tid int64) (index int, ok bool)
	Captured(index int) bool
	Context(index int) (ip, fp, sp uintptr)
	ThreadID(index int) int64
	WaitCapture(deadline time.Time) (bool, error)
	SignalRelease()
	LeakSlot(index int)
}

// New constructs a Controller. clk may be nil to use the system clock.
func New(plat platform.Platform, sem rendezvousSemaphore, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.System{}
	}
	return &Controller{plat: plat, clk: clk, sem: sem}
}

// Run performs the full sampling session: locks the controller goroutine
// to its own OS thread (matching the requirement that the controller run
// on one dedicated, renamed thread so it is never itself a sampling
// target), emits the segment list once, then runs sampleCount rounds
// spaced microsBetweenSamples apart.
//
// It returns the number of rounds that completed without an abort-level
// error (platform enumeration failure) — spec's process exit-code
// convention treats this as a success/failure signal rather than a Go
// error, since per-thread degradation is diagnostic, not fatal.
func (c *Controller) Run(sink Sink, sampleCount int, microsBetweenSamples int64) (completed int, err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	_ = platform.SetCurrentThreadName("swipr-ctrl")

	segs, err := c.plat.EnumerateSegments()
	if err != nil {
		return 0, errors.Wrap(err, "enumerate segments")
	}
	if err := sink.Segments(segs); err != nil {
		return 0, errors.Wrap(err, "emit segments")
	}

	for i := 0; i < sampleCount; i++ {
		round, roundErr := c.runRound(i)
		if roundErr != nil {
			// An aborted round is reported as a diagnostic and skipped; the
			// session goes on with the next round.
			round = Round{Index: i, StartedAt: c.clk.Now(), Diagnostics: []string{roundErr.Error()}}
		}
		if err := sink.Round(round); err != nil {
			return completed, errors.Wrap(err, "emit round")
		}
		if roundErr == nil {
			completed++
		}

		if i != sampleCount-1 && microsBetweenSamples > 0 {
			time.Sleep(time.Duration(microsBetweenSamples) * time.Microsecond)
		}
	}
	return completed, nil
}

type claim struct {
	desc platform.ThreadDescriptor
	slot int
}

// runRound implements the per-round algorithm: prepare, claim, signal,
// wait for captures with graceful per-thread degradation, unwind, release,
// and return to idle. Exactly one round is ever in the Sampling/Processing
// states at a time; this method must not be called concurrently with
// itself on the same Controller.
func (c *Controller) runRound(index int) (Round, error) {
	startedAt := c.clk.Now()

	rendezvous.Precondition(c.sem.CurrentState() == rendezvous.Idle,
		"runRound entered with state %s, want idle", c.sem.CurrentState())
	c.sem.SetState(rendezvous.Preparing)
	c.sem.ResetTable()

	self := c.plat.CurrentThreadID()
	threads, err := c.plat.EnumerateThreads(self)
	if err != nil {
		c.sem.SetState(rendezvous.Idle)
		return Round{}, errors.Wrap(err, "enumerate threads")
	}

	claims := make([]claim, 0, len(threads))
	var diagErrs *multierror.Error
	for _, t := range threads {
		idx, ok := c.sem.ClaimSlot(int64(t.ID))
		if !ok {
			diagErrs = multierror.Append(diagErrs, errors.Errorf("thread %d: rendezvous table exhausted", t.ID))
			break
		}
		claims = append(claims, claim{desc: t, slot: idx})
	}

	rendezvous.Precondition(c.sem.CurrentState() == rendezvous.Preparing,
		"runRound: state %s, want preparing", c.sem.CurrentState())
	c.sem.SetState(rendezvous.Sampling)

	deadline := time.Now().Add(RoundTimeout)
	// gone tracks threads whose signal failed to send (already exited, or
	// otherwise unreachable): the send is reliable enough that a failure
	// here means there is no handler coming, so these are excluded from
	// the wait budget immediately rather than being allowed to eat up to
	// RoundTimeout waiting for an acknowledgement that will never arrive.
	gone := make(map[int]bool, len(claims))
	for _, cl := range claims {
		if err := c.plat.SendProfilingSignal(cl.desc.ID); err != nil {
			diagErrs = multierror.Append(diagErrs, errors.Wrapf(err, "thread %d: signal delivery", cl.desc.ID))
			gone[cl.slot] = true
		}
	}

	// The capture semaphore is a single counting semaphore shared by every
	// claimed thread in the round: each handler posts it once, in whatever
	// order threads happen to be scheduled, not in claim order. So rather
	// than pairing one Wait call with one particular thread, the
	// controller waits, against the one round-wide deadline, once for each
	// claimed thread whose signal was sent, and then consults the table
	// directly to see which slots actually got filled before the deadline.
	pending := 0
	for _, cl := range claims {
		if !gone[cl.slot] {
			pending++
		}
	}
	for pending > 0 {
		acquired, err := c.sem.WaitCapture(deadline)
		if err != nil || !acquired {
			break
		}
		pending--
		if !time.Now().Before(deadline) {
			break
		}
	}

	traceUnwind := diag.Unwinding.Enabled()

	for _, cl := range claims {
		if c.sem.Captured(cl.slot) {
			if traceUnwind {
				diag.Logger.WithField("thread_id", cl.desc.ID).WithField("round", index).Debug("thread captured")
			}
			continue
		}
		if gone[cl.slot] {
			// Already reported as a signal delivery failure above; it was
			// excluded from the wait budget and was never going to
			// acknowledge capture.
			continue
		}
		if c.plat.ProbeAlive(cl.desc.ID) {
			diagErrs = multierror.Append(diagErrs, errors.Errorf("thread %d: did not acknowledge capture", cl.desc.ID))
		} else {
			diagErrs = multierror.Append(diagErrs, errors.Errorf("thread %d: exited before capture", cl.desc.ID))
		}
		if traceUnwind {
			diag.Logger.WithField("thread_id", cl.desc.ID).WithField("round", index).Debug("thread not captured")
		}
	}

	rendezvous.Precondition(c.sem.CurrentState() == rendezvous.Sampling,
		"runRound: state %s, want sampling", c.sem.CurrentState())
	c.sem.SetState(rendezvous.Processing)

	traceUnwindInfo := diag.UnwindInfo.Enabled()
	stacks := make([]ThreadStack, 0, len(claims))
	for _, cl := range claims {
		if !c.sem.Captured(cl.slot) {
			continue
		}
		ip, fp, sp := c.sem.Context(cl.slot)
		cur := unwind.NewCursor(ip, fp, sp)
		var frames [unwind.MaxStackDepth]Frame
		n := unwind.Walk(cur, frames[:])
		if traceUnwindInfo {
			stopReason := "fp chain ended"
			if n == unwind.MaxStackDepth {
				stopReason = "depth cap reached"
			}
			diag.Logger.WithField("thread_id", cl.desc.ID).WithField("frames", n).
				WithField("stop_reason", stopReason).Debug("unwind decoded")
		}
		stacks = append(stacks, ThreadStack{
			ThreadID: cl.desc.ID,
			Name:     cl.desc.Name,
			Frames:   append([]Frame(nil), frames[:n]...),
		})
	}

	// Only captured threads are parked waiting on the release semaphore;
	// anything that never captured (gone, masked, or still timed out)
	// never reached that wait, so releasing it would just inflate the
	// semaphore's count for nothing.
	for _, cl := range claims {
		if c.sem.Captured(cl.slot) {
			c.sem.SignalRelease()
		}
	}

	// Every captured thread's handler posts the capture semaphore a
	// second time right before it returns, acknowledging that it is done
	// reading its slot. Wait for that second ack per captured thread,
	// same ordinal-pairing approximation as the first wait above. A
	// thread that doesn't ack within its own 100ms budget might still be
	// parked in, or only just past, the handler referencing its slot, so
	// its slot is leaked rather than reset out from under it — leaking a
	// table slot is preferred to a use-after-free.
	for _, cl := range claims {
		if !c.sem.Captured(cl.slot) {
			continue
		}
		ackDeadline := time.Now().Add(SecondAckTimeout)
		acquired, err := c.sem.WaitCapture(ackDeadline)
		if err != nil || !acquired {
			diagErrs = multierror.Append(diagErrs, errors.Errorf("thread %d: timed out acknowledging release, leaking its slot", cl.desc.ID))
			c.sem.LeakSlot(cl.slot)
		}
	}

	rendezvous.Precondition(c.sem.CurrentState() == rendezvous.Processing,
		"runRound: state %s, want processing", c.sem.CurrentState())
	c.sem.SetState(rendezvous.Idle)
	c.sem.ResetTable()

	var diagMsgs []string
	if diagErrs != nil {
		for _, e := range diagErrs.Errors {
			diagMsgs = append(diagMsgs, e.Error())
		}
	}

	return Round{
		Index:       index,
		StartedAt:   startedAt,
		Stacks:      stacks,
		Diagnostics: diagMsgs,
	}, nil
}

