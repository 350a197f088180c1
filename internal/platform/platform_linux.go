// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// profilingSignal is the signal the controller raises on mutator threads.
// It matches the default the rendezvous package installs a handler for.
const profilingSignal = unix.SIGPROF

type linuxPlatform struct{}

func newPlatform() (Platform, error) {
	return linuxPlatform{}, nil
}

func (linuxPlatform) CurrentThreadID() ThreadID {
	return ThreadID(unix.Gettid())
}

// EnumerateThreads walks /proc/self/task the way the original's
// swipr_os_dep_create_thread_list walks the kernel's own task list,
// reading each entry's comm for a display name and its status file's
// SigBlk mask to skip any thread that currently has the profiling signal
// blocked — such a thread would never run the handler, so including it
// would only cost the round its full timeout for nothing.
func (linuxPlatform) EnumerateThreads(self ThreadID) ([]ThreadDescriptor, error) {
	entries, err := os.ReadDir("/proc/self/task")
	if err != nil {
		return nil, errors.Wrap(ErrEnumerationFailed, err.Error())
	}

	out := make([]ThreadDescriptor, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if ThreadID(tid) == self {
			continue
		}

		blocked, err := signalBlocked(tid, profilingSignal)
		if err != nil {
			// The thread exited between the readdir and the status read;
			// this is routine churn, not an enumeration failure.
			continue
		}
		if blocked {
			continue
		}

		out = append(out, ThreadDescriptor{
			ID:   ThreadID(tid),
			Name: threadComm(tid),
		})
	}
	return out, nil
}

func threadComm(tid int64) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/self/task/%d/comm", tid))
	if err != nil {
		return ""
	}
	name := strings.TrimRight(string(b), "\n")
	if len(name) > NameLen-1 {
		name = name[:NameLen-1]
	}
	return name
}

// signalBlocked parses the SigBlk line of /proc/self/task/<tid>/status, a
// 64-bit hex mask where bit (signo-1) being set means the signal is
// currently blocked for that thread.
func signalBlocked(tid int64, signo int) (bool, error) {
	f, err := os.Open(fmt.Sprintf("/proc/self/task/%d/status", tid))
	if err != nil {
		return false, err
	}
	defer f.Close()

	mask, ok, err := parseSigBlk(f)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	bit := uint64(1) << uint(signo-1)
	return mask&bit != 0, nil
}

func parseSigBlk(r *os.File) (mask uint64, found bool, err error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "SigBlk:") {
			continue
		}
		hex := strings.TrimSpace(strings.TrimPrefix(line, "SigBlk:"))
		v, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return 0, false, err
		}
		return v, true, nil
	}
	return 0, false, sc.Err()
}

// EnumerateSegments reads /proc/self/maps, the idiomatic Go stand-in for
// dl_iterate_phdr: one ImageSegment per raw mapping, matching dl_iterate_phdr's
// one-callback-per-PT_LOAD-phdr granularity rather than coalescing a
// file's mappings into one entry. A file's FileMappedAddress is the
// address its first-seen mapping starts at, standing in for dlpi_addr (the
// load bias every segment of that object shares). Every segment whose path
// resolves to /proc/self/exe's target is moved to the front, preserving
// relative order, matching the original convention (driven by glibc's own
// dl_iterate_phdr, which always reports the main executable first) that
// the main executable's segments lead the list.
func (linuxPlatform) EnumerateSegments() ([]ImageSegment, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, errors.Wrap(ErrEnumerationFailed, err.Error())
	}
	defer f.Close()

	exe, _ := filepath.EvalSymlinks("/proc/self/exe")

	var segments []ImageSegment
	fileBase := make(map[string]uintptr)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		seg, ok := parseMapsLine(sc.Bytes())
		if !ok || seg.Path == "" {
			continue
		}
		base, seen := fileBase[seg.Path]
		if !seen {
			base = seg.SegmentStartAddress
			fileBase[seg.Path] = base
		}
		seg.FileMappedAddress = base
		segments = append(segments, seg)
		if len(segments) >= MaxLibs {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(ErrEnumerationFailed, err.Error())
	}

	if exe == "" {
		return segments, nil
	}
	return partitionPathFirst(segments, exe), nil
}

// partitionPathFirst stably moves every segment whose Path matches first
// to the front, preserving each group's relative order.
func partitionPathFirst(segments []ImageSegment, path string) []ImageSegment {
	out := make([]ImageSegment, 0, len(segments))
	for _, s := range segments {
		if s.Path == path {
			out = append(out, s)
		}
	}
	for _, s := range segments {
		if s.Path != path {
			out = append(out, s)
		}
	}
	return out
}

// parseMapsLine parses one /proc/self/maps line of the form:
//
//	7f2c1a400000-7f2c1a600000 r-xp 00000000 fd:01 131081   /lib/libc.so.6
//
// into a segment's path and own [start,end) bounds; FileMappedAddress is
// filled in by the caller, which alone knows whether this is the first
// mapping seen for this path.
func parseMapsLine(line []byte) (ImageSegment, bool) {
	fields := bytes.Fields(line)
	if len(fields) < 5 {
		return ImageSegment{}, false
	}
	rng := string(fields[0])
	lo, hi, ok := strings.Cut(rng, "-")
	if !ok {
		return ImageSegment{}, false
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return ImageSegment{}, false
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return ImageSegment{}, false
	}

	path := ""
	if len(fields) >= 6 {
		path = string(fields[5])
	}

	return ImageSegment{
		Path:                path,
		SegmentStartAddress: uintptr(start),
		SegmentEndAddress:   uintptr(end),
	}, true
}

func (linuxPlatform) SendProfilingSignal(id ThreadID) error {
	if err := unix.Tgkill(os.Getpid(), int(id), profilingSignal); err != nil {
		return errors.Wrap(err, "tgkill")
	}
	return nil
}

func (linuxPlatform) ProbeAlive(id ThreadID) bool {
	err := unix.Tgkill(os.Getpid(), int(id), 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, unix.ESRCH)
}

// SetCurrentThreadName renames the calling OS thread, best effort: a
// failure here is diagnostic noise, never a reason to abort a round.
func SetCurrentThreadName(name string) error {
	if len(name) > NameLen-1 {
		name = name[:NameLen-1]
	}
	buf := append([]byte(name), 0)
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}

