// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Package emit writes the sampler's line-oriented output stream: one
// `[SWIPR] TAG {json}` line per event, meant to be consumed by a separate
// offline tool rather than read by a human.
//
// Each line is written directly to a *bufio.Writer with an explicit
// trailing newline rather than through json.Encoder, so the exact byte
// layout of every line is under this package's control and matches the
// original implementation's wire grammar field for field.
package emit

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/dayanruben/swift-profile-recorder/internal/platform"
)

// ProtocolVersion is the VERS line's version field. Bump it whenever a
// line's field set or semantics change in a way downstream consumers must
// distinguish.
const ProtocolVersion = 1

// Emitter writes one sampling session's output stream.
type Emitter struct {
	w *bufio.Writer
}

// New wraps w in a buffered emitter. Callers must call Flush when done.
func New(w io.Writer) *Emitter {
	return &Emitter{w: bufio.NewWriter(w)}
}

// Flush pushes any buffered output to the underlying writer.
func (e *Emitter) Flush() error {
	return e.w.Flush()
}

func (e *Emitter) writeLine(tag string, v any) error {
	var body []byte
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "marshal %s line", tag)
		}
		body = b
	}
	if _, err := e.w.WriteString("[SWIPR] "); err != nil {
		return err
	}
	if _, err := e.w.WriteString(tag); err != nil {
		return err
	}
	if body != nil {
		if err := e.w.WriteByte(' '); err != nil {
			return err
		}
		if _, err := e.w.Write(body); err != nil {
			return err
		}
	}
	return e.w.WriteByte('\n')
}

type versLine struct {
	Version int `json:"version"`
}

// Version writes the VERS line. It must be the first line of the stream.
func (e *Emitter) Version() error {
	return e.writeLine("VERS", versLine{Version: ProtocolVersion})
}

// Config describes the static, per-session parameters a consumer needs
// before it can interpret any SMPL/STCK line that follows.
type Config struct {
	SampleCount            int
	MicrosBetweenSamples   int64
	CurrentTimeSeconds     int64
	CurrentTimeNanoseconds int64
}

type confLine struct {
	SampleCount            int   `json:"sampleCount"`
	MicrosBetweenSamples   int64 `json:"microSecondsBetweenSamples"`
	CurrentTimeSeconds     int64 `json:"currentTimeSeconds"`
	CurrentTimeNanoseconds int64 `json:"currentTimeNanoseconds"`
}

// Config writes the CONF line, once per session, after VERS and before the
// first VMAP.
func (e *Emitter) Config(cfg Config) error {
	return e.writeLine("CONF", confLine{
		SampleCount:            cfg.SampleCount,
		MicrosBetweenSamples:   cfg.MicrosBetweenSamples,
		CurrentTimeSeconds:     cfg.CurrentTimeSeconds,
		CurrentTimeNanoseconds: cfg.CurrentTimeNanoseconds,
	})
}

type vmapLine struct {
	Path                string `json:"path"`
	FileMappedAddress   string `json:"fileMappedAddress"`
	SegmentStartAddress string `json:"segmentStartAddress"`
	SegmentEndAddress   string `json:"segmentEndAddress"`
}

// VMap writes one VMAP line describing one loaded image segment as
// platform.ImageSegment defines it (not one per coalesced file mapping).
// Consumers use these to map a sample's bare
// addresses back to (library, offset) pairs out of process; this package
// never resolves symbols itself.
func (e *Emitter) VMap(seg platform.ImageSegment) error {
	return e.writeLine("VMAP", vmapLine{
		Path:                seg.Path,
		FileMappedAddress:   hexUintptr(seg.FileMappedAddress),
		SegmentStartAddress: hexUintptr(seg.SegmentStartAddress),
		SegmentEndAddress:   hexUintptr(seg.SegmentEndAddress),
	})
}

type smplLine struct {
	PID      int    `json:"pid"`
	TID      int64  `json:"tid"`
	Name     string `json:"name"`
	TimeSec  int64  `json:"timeSec"`
	TimeNSec int64  `json:"timeNSec"`
}

// Sample writes one SMPL line, opening one minidump: one real thread's
// captured stack within the current round. pid/timeSec/timeNSec are shared
// by every minidump in a round, since the original takes a single
// wall-clock reading per round rather than per thread.
func (e *Emitter) Sample(pid int, tid int64, name string, timeSec, timeNSec int64) error {
	return e.writeLine("SMPL", smplLine{PID: pid, TID: tid, Name: name, TimeSec: timeSec, TimeNSec: timeNSec})
}

type stckLine struct {
	IP string `json:"ip"`
	SP string `json:"sp"`
}

// Stack writes one STCK line: a single captured frame's instruction
// pointer and frame-chain value, which the original's own stack walker
// also reports as a frame's "sp" (it never tracks a true per-frame stack
// pointer distinct from the frame-pointer chain it walks). Called once per
// frame, between a Sample call and the Done that closes its minidump.
func (e *Emitter) Stack(ip, fp uintptr) error {
	return e.writeLine("STCK", stckLine{IP: hexUintptr(ip), SP: hexUintptr(fp)})
}

// Done closes the minidump opened by the preceding Sample call. It carries
// no JSON body at all — just the bare tag.
func (e *Emitter) Done() error {
	return e.writeLine("DONE", nil)
}

type mesgLine struct {
	Message string `json:"message"`
	Exit    *int   `json:"exit,omitempty"`
}

// Message writes a MESG line: a diagnostic the consumer may surface to a
// human but must not treat as part of the sampled data itself. exit is
// non-nil only when the message accompanies a fatal, process-ending
// condition, matching the original's optional "exit" field.
func (e *Emitter) Message(message string, exit *int) error {
	return e.writeLine("MESG", mesgLine{Message: message, Exit: exit})
}

func hexUintptr(v uintptr) string {
	const hexdigits = "0123456789abcdef"
	if v == 0 {
		return "0x0"
	}
	var buf [2 + 16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = hexdigits[v&0xf]
		v >>= 4
	}
	i -= 2
	buf[i], buf[i+1] = '0', 'x'
	return string(buf[i:])
}
