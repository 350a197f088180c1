// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Package semaphore wraps a POSIX unnamed semaphore (sem_t). It exists
// because the controller/mutator handshake must be signaled from inside a
// real signal handler, and sem_post is one of the few synchronization
// primitives POSIX guarantees is async-signal-safe; a sync.Cond or a Go
// channel is not, since both can reenter the Go scheduler.
//
// The methods of this type are called from regular goroutine context. A C
// signal handler that needs to signal the same semaphore calls sem_post on
// the underlying sem_t directly, which is async-signal-safe. New and Close
// allocate and release the underlying sem_t.
package semaphore

/*
#include <semaphore.h>
#include <errno.h>
#include <stdlib.h>
#include <time.h>

static int swipr_sem_init(sem_t *s) {
	return sem_init(s, 0, 0);
}

static int swipr_sem_post(sem_t *s) {
	return sem_post(s);
}

static int swipr_sem_wait(sem_t *s) {
	int rc;
	do {
		rc = sem_wait(s);
	} while (rc != 0 && errno == EINTR);
	return rc;
}

static int swipr_sem_timedwait(sem_t *s, long long sec, long nsec) {
	struct timespec ts;
	ts.tv_sec = (time_t)sec;
	ts.tv_nsec = nsec;
	int rc;
	do {
		rc = sem_timedwait(s, &ts);
	} while (rc != 0 && errno == EINTR);
	return rc;
}

static int swipr_sem_destroy(sem_t *s) {
	return sem_destroy(s);
}
*/
import "C"

import (
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Semaphore is a counting semaphore backed by a POSIX sem_t. The memory it
// points at is stable across Go's cooperative stack moves and safe to
// touch from a signal handler.
type Semaphore struct {
	sem   *C.sem_t
	owned bool
}

// New allocates and initializes a zero-valued semaphore owned by this
// Semaphore: Close will destroy and free it.
func New() (*Semaphore, error) {
	sem := (*C.sem_t)(C.malloc(C.sizeof_sem_t))
	if _, errno := C.swipr_sem_init(sem); errno != nil {
		C.free(unsafe.Pointer(sem))
		return nil, errors.Wrap(errno, "sem_init")
	}
	return &Semaphore{sem: sem, owned: true}, nil
}

// Wrap builds a Go-side handle over a sem_t whose storage and lifetime
// belong to someone else — typically a C global a signal handler posts to
// directly. This is how internal/rendezvous exposes its capture/release
// semaphores (owned by rendezvous.c, posted to from swipr_handler)
// for the controller to Wait/WaitUntil on from ordinary goroutine context,
// without this package ever allocating or destroying that memory itself.
func Wrap(ptr unsafe.Pointer) *Semaphore {
	return &Semaphore{sem: (*C.sem_t)(ptr)}
}

// Close destroys the semaphore and releases its backing memory. It is a
// no-op on a Semaphore built with Wrap, since Wrap never took ownership.
// Callers of a New'd semaphore must ensure no signal handler can still
// observe it after Close returns.
func (s *Semaphore) Close() error {
	if !s.owned || s.sem == nil {
		return nil
	}
	_, errno := C.swipr_sem_destroy(s.sem)
	C.free(unsafe.Pointer(s.sem))
	s.sem = nil
	if errno != nil {
		return errors.Wrap(errno, "sem_destroy")
	}
	return nil
}

// Signal increments the semaphore with sem_post. The C signal handler does
// not call this method; it posts to the same sem_t directly.
func (s *Semaphore) Signal() {
	C.swipr_sem_post(s.sem)
}

// Wait blocks until the semaphore is signaled.
func (s *Semaphore) Wait() error {
	if _, errno := C.swipr_sem_wait(s.sem); errno != nil {
		return errors.Wrap(errno, "sem_wait")
	}
	return nil
}

// WaitUntil blocks until the semaphore is signaled or deadline passes,
// reporting which happened. It is used by the controller to bound how long
// it will wait for a mutator thread that may be dead, stopped, or stuck
// with the profiling signal blocked.
func (s *Semaphore) WaitUntil(deadline time.Time) (acquired bool, err error) {
	sec := C.longlong(deadline.Unix())
	nsec := C.long(deadline.Nanosecond())
	rc, errno := C.swipr_sem_timedwait(s.sem, sec, nsec)
	if rc == 0 {
		return true, nil
	}
	if errno == unix.ETIMEDOUT {
		return false, nil
	}
	return false, errors.Wrap(errno, "sem_timedwait")
}
