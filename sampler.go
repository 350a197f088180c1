// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

package swipr

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/dayanruben/swift-profile-recorder/internal/clock"
	"github.com/dayanruben/swift-profile-recorder/internal/controller"
	"github.com/dayanruben/swift-profile-recorder/internal/diag"
	"github.com/dayanruben/swift-profile-recorder/internal/emit"
	"github.com/dayanruben/swift-profile-recorder/internal/platform"
	"github.com/dayanruben/swift-profile-recorder/internal/rendezvous"
)

// profilingSignal is the signal Initialize installs a handler for and
// RequestSample's rounds raise on every sampled thread.
const profilingSignal = unix.SIGPROF

var (
	initOnce  sync.Once
	initErr   error
	sessionMu sync.Mutex
	plat      platform.Platform
)

// Initialize installs the rendezvous signal handler. It must be called
// once, before the first call to RequestSample, typically as early as
// possible in process startup so the handler is in place before any
// thread that might need sampling has started. Calling it more than once
// is safe; only the first call does any work.
func Initialize() error {
	initOnce.Do(func() {
		if diag.UnsafeDebugAPI.Enabled() {
			diag.Logger.Debug("swipr: Initialize called")
		}
		p, err := platform.New()
		if err != nil {
			initErr = errors.Wrap(err, "initialize")
			return
		}
		if !rendezvous.Supported {
			initErr = errors.Wrap(platform.ErrUnsupportedArch, "initialize")
			return
		}
		if err := rendezvous.Install(int(profilingSignal)); err != nil {
			initErr = errors.Wrap(err, "initialize")
			return
		}
		plat = p
	})
	return initErr
}

// emitSink adapts an *emit.Emitter to the controller.Sink interface,
// translating rounds and diagnostics into the line-oriented wire format.
type emitSink struct {
	e *emit.Emitter
}

func (s *emitSink) Segments(segs []platform.ImageSegment) error {
	for _, seg := range segs {
		if err := s.e.VMap(seg); err != nil {
			return err
		}
	}
	return nil
}

func (s *emitSink) Round(r controller.Round) error {
	pid := os.Getpid()
	for _, st := range r.Stacks {
		if err := s.e.Sample(pid, int64(st.ThreadID), st.Name, r.StartedAt.Sec, r.StartedAt.NSec); err != nil {
			return err
		}
		for _, f := range st.Frames {
			if err := s.e.Stack(f.IP, f.FP); err != nil {
				return err
			}
		}
		if err := s.e.Done(); err != nil {
			return err
		}
	}
	for _, d := range r.Diagnostics {
		if err := s.e.Message(d, nil); err != nil {
			return err
		}
	}
	return nil
}

// RequestSample runs sampleCount sampling rounds, microsBetweenSamples
// microseconds apart, writing the line-oriented output stream described
// by internal/emit to w. It calls Initialize itself if that has not been
// done yet. It returns a process-exit-code-shaped int: 0 on success, 1 if
// the session could not run at all (Initialize failed, the
// platform/architecture is unsupported, or the image segment list could
// not be read) or if writing the output failed. A round whose thread
// enumeration fails is reported as a MESG line and skipped; it does not
// change the exit code.
//
// Concurrent calls to RequestSample are serialized: only one sampling
// session runs at a time, since the rendezvous table and semaphores are
// process-wide.
func RequestSample(w io.Writer, sampleCount int, microsBetweenSamples int64) int {
	traceAPI := diag.UnsafeDebugAPI.Enabled()
	if traceAPI {
		diag.Logger.WithField("sample_count", sampleCount).
			WithField("micros_between_samples", microsBetweenSamples).
			Debug("swipr: RequestSample called")
	}
	if err := Initialize(); err != nil {
		diag.Logger.WithError(err).Error("swipr: initialize failed")
		e := emit.New(w)
		exit := 1
		_ = e.Message(err.Error(), &exit)
		_ = e.Flush()
		return 1
	}

	sessionMu.Lock()
	defer sessionMu.Unlock()

	e := emit.New(w)
	if err := e.Version(); err != nil {
		diag.Logger.WithError(err).Error("swipr: write VERS")
		return 1
	}
	now := clock.System{}.Now()
	cfg := emit.Config{
		SampleCount:            sampleCount,
		MicrosBetweenSamples:   microsBetweenSamples,
		CurrentTimeSeconds:     now.Sec,
		CurrentTimeNanoseconds: now.NSec,
	}
	if err := e.Config(cfg); err != nil {
		diag.Logger.WithError(err).Error("swipr: write CONF")
		return 1
	}

	sink := &emitSink{e: e}
	ctrl := controller.New(plat, rendezvous.Handle{}, clock.System{})

	_, err := ctrl.Run(sink, sampleCount, microsBetweenSamples)
	if flushErr := e.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		diag.Logger.WithError(err).Error("swipr: sampling session failed")
		return 1
	}
	if traceAPI {
		diag.Logger.Debug("swipr: RequestSample returning 0")
	}
	return 0
}
