// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !darwin

package platform

func newPlatform() (Platform, error) {
	return nil, ErrUnsupportedPlatform
}

// SetCurrentThreadName has no backend on this platform.
func SetCurrentThreadName(name string) error { return ErrUnsupportedPlatform }
