// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Package swipr is an in-process, whole-process, wall-clock stack sampling
// profiler. Initialize installs the rendezvous signal handler, and
// RequestSample drives one or more sampling rounds, emitting a
// line-oriented text stream describing every live thread's call stack.
//
// Symbolication, aggregation, and flamegraph rendering are out of scope;
// the emitted stream is meant for a separate offline tool to consume.
package swipr
