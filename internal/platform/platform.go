// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Package platform adapts the sampler to the host operating system: it
// enumerates the process's own threads and loaded image segments, sends
// and probes the profiling signal, and names threads for diagnostics. The
// controller depends only on the Platform interface below, never on a
// concrete OS backend, so it can be driven by a fake in tests.
package platform

import (
	"errors"
)

// Tunables carried over from the original implementation's fixed-size
// tables; the controller and emitter size their own buffers against these.
const (
	// MaxLibs bounds how many image segments one enumeration can report.
	MaxLibs = 1024
	// NameLen bounds a thread name, including the terminator.
	NameLen = 32
	// PathLen is the nominal size of an image segment's path, terminator
	// included. No backend truncates paths to it: EnumerateSegments reports
	// each path in full.
	PathLen = 1024
)

var (
	// ErrUnsupportedPlatform is returned by New when GOOS has no backend.
	ErrUnsupportedPlatform = errors.New("platform: unsupported operating system")
	// ErrUnsupportedArch reports that GOOS is supported but GOARCH has no
	// register-extraction support in internal/rendezvous. New does not
	// return it; the root package's Initialize wraps it when
	// rendezvous.Supported is false.
	ErrUnsupportedArch = errors.New("platform: unsupported architecture")
	// ErrEnumerationFailed is returned when thread or segment enumeration
	// could not complete, e.g. /proc/self/task disappeared mid-walk.
	ErrEnumerationFailed = errors.New("platform: enumeration failed")
)

// ThreadID is an OS-level thread identifier: a Linux tid, or a Darwin mach
// thread port/pthread id depending on backend.
type ThreadID int64

// ThreadDescriptor names one live thread found during enumeration.
type ThreadDescriptor struct {
	ID   ThreadID
	Name string
}

// ImageSegment is one loaded segment of an executable or shared library:
// one per named mapping line of /proc/self/maps on Linux (pseudo-mappings
// such as [heap] or [vdso] included, anonymous mappings skipped), one per
// named Mach-O segment on Darwin — never a whole image coalesced into one
// entry, since a single object's segments can have very different
// protections and the consumer needs each one's own bounds to map an
// address back to an offset within the right segment.
type ImageSegment struct {
	Path string
	// FileMappedAddress stands in for the load bias of this object (on
	// Linux the start address of the object's first mapping, on Darwin the
	// dyld vmaddr slide): constant across all of one object's segments.
	FileMappedAddress uintptr
	// SegmentStartAddress and SegmentEndAddress are this segment's own
	// bounds in the running process's address space.
	SegmentStartAddress uintptr
	SegmentEndAddress   uintptr
}

// Platform is everything the controller needs from the operating system.
// A production build is backed by one real implementation selected at
// compile time (Linux or Darwin); tests substitute a fake.
type Platform interface {
	// CurrentThreadID returns the calling goroutine's own OS thread id, so
	// the controller can exclude itself from the set of threads sampled.
	CurrentThreadID() ThreadID

	// EnumerateThreads lists every live thread in the process except self.
	// The Linux backend also excludes any thread whose signal mask
	// currently blocks the profiling signal (it would never run the
	// handler, so waiting on it would only burn the round's timeout); the
	// Darwin backends do not check signal masks.
	EnumerateThreads(self ThreadID) ([]ThreadDescriptor, error)

	// EnumerateSegments lists the process's loaded image segments, first
	// entry always the main executable.
	EnumerateSegments() ([]ImageSegment, error)

	// SendProfilingSignal raises the profiling signal on the given thread.
	SendProfilingSignal(id ThreadID) error

	// ProbeAlive reports whether the thread is still alive, used to
	// distinguish a dead thread from one merely slow to acknowledge.
	ProbeAlive(id ThreadID) bool
}

// New constructs the production Platform for the running GOOS, or returns
// ErrUnsupportedPlatform.
func New() (Platform, error) {
	return newPlatform()
}
