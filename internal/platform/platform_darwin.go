// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

//go:build darwin && !swipr_darwin_stub

package platform

/*
#cgo LDFLAGS: -framework CoreFoundation
#include <mach/mach.h>
#include <mach/thread_act.h>
#include <pthread.h>
#include <signal.h>
#include <stdlib.h>
#include <dlfcn.h>
#include <mach-o/dyld.h>
#include <mach-o/getsect.h>

static kern_return_t swipr_list_threads(thread_act_array_t *threads, mach_msg_type_number_t *count) {
	return task_threads(mach_task_self(), threads, count);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// profilingSignal is the signal the controller raises on mutator threads.
const profilingSignal = unix.SIGPROF

type darwinPlatform struct{}

func newPlatform() (Platform, error) {
	return darwinPlatform{}, nil
}

func (darwinPlatform) CurrentThreadID() ThreadID {
	var tid uint64
	C.pthread_threadid_np(nil, (*C.__uint64_t)(unsafe.Pointer(&tid)))
	return ThreadID(tid)
}

// EnumerateThreads uses task_threads, the Mach-level thread list for the
// calling task, mirroring the shape of the original's enumerate_threads
// hook for the Darwin OS-adaptation family. It maps each mach port back to
// a pthread id via pthread_from_mach_thread_np for naming and signalling.
func (darwinPlatform) EnumerateThreads(self ThreadID) ([]ThreadDescriptor, error) {
	var list C.thread_act_array_t
	var count C.mach_msg_type_number_t
	if kr := C.swipr_list_threads(&list, &count); kr != C.KERN_SUCCESS {
		return nil, errors.Wrapf(ErrEnumerationFailed, "task_threads: kern_return_t %d", int(kr))
	}
	defer C.vm_deallocate(C.mach_task_self(), C.vm_address_t(uintptr(unsafe.Pointer(list))), C.vm_size_t(uintptr(count)*unsafe.Sizeof(C.thread_act_t(0))))

	n := int(count)
	ports := unsafe.Slice((*C.thread_act_t)(unsafe.Pointer(list)), n)

	out := make([]ThreadDescriptor, 0, n)
	for _, port := range ports {
		pt := C.pthread_from_mach_thread_np(port)
		if pt == nil {
			continue
		}
		var tid uint64
		C.pthread_threadid_np(pt, (*C.__uint64_t)(unsafe.Pointer(&tid)))
		if ThreadID(tid) == self {
			continue
		}
		out = append(out, ThreadDescriptor{
			ID:   ThreadID(tid),
			Name: pthreadName(pt),
		})
	}
	return out, nil
}

func pthreadName(pt C.pthread_t) string {
	buf := make([]byte, NameLen)
	if rc := C.pthread_getname_np(pt, (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf))); rc != 0 {
		return ""
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// darwinSegmentNames are the segments every Mach-O image loaded by dyld is
// expected to carry a subset of; EnumerateSegments looks each one up by
// name rather than walking the load-command list generically, mirroring
// how getsegbynamefromheader itself is meant to be used.
var darwinSegmentNames = []string{"__TEXT", "__DATA", "__DATA_CONST", "__DATA_DIRTY", "__LINKEDIT"}

// EnumerateSegments walks the dyld image list (_dyld_image_count /
// _dyld_get_image_header), the Darwin stand-in for dl_iterate_phdr, and
// within each image looks up every well-known segment by name via
// getsegbynamefromheader_64 for its own vmaddr/vmsize — the Mach-O
// equivalent of one PT_LOAD program header — rather than reporting one
// entry for the whole image. _dyld_get_image_vmaddr_slide is constant
// across all of one image's segments, the same role dlpi_addr plays on
// Linux, so it becomes that image's FileMappedAddress.
func (darwinPlatform) EnumerateSegments() ([]ImageSegment, error) {
	count := int(C._dyld_image_count())
	out := make([]ImageSegment, 0, count)
	for i := 0; i < count && len(out) < MaxLibs; i++ {
		name := C._dyld_get_image_name(C.uint32_t(i))
		if name == nil {
			continue
		}
		hdr := (*C.struct_mach_header_64)(unsafe.Pointer(C._dyld_get_image_header(C.uint32_t(i))))
		slide := uintptr(C._dyld_get_image_vmaddr_slide(C.uint32_t(i)))
		path := C.GoString(name)

		for _, segName := range darwinSegmentNames {
			cSegName := C.CString(segName)
			seg := C.getsegbynamefromheader_64(hdr, cSegName)
			C.free(unsafe.Pointer(cSegName))
			if seg == nil {
				continue
			}
			start := slide + uintptr(seg.vmaddr)
			out = append(out, ImageSegment{
				Path:                path,
				FileMappedAddress:   slide,
				SegmentStartAddress: start,
				SegmentEndAddress:   start + uintptr(seg.vmsize),
			})
			if len(out) >= MaxLibs {
				break
			}
		}
	}
	return out, nil
}

func (darwinPlatform) SendProfilingSignal(id ThreadID) error {
	pt, err := pthreadFor(id)
	if err != nil {
		return err
	}
	if rc := C.pthread_kill(pt, C.int(profilingSignal)); rc != 0 {
		return fmt.Errorf("pthread_kill: errno %d", int(rc))
	}
	return nil
}

func (darwinPlatform) ProbeAlive(id ThreadID) bool {
	pt, err := pthreadFor(id)
	if err != nil {
		return false
	}
	return C.pthread_kill(pt, 0) == 0
}

// pthreadFor re-resolves a pthread_t from a previously observed tid by
// re-walking the thread list; Darwin has no direct tid->pthread_t lookup
// outside of the enumeration call itself.
func pthreadFor(id ThreadID) (C.pthread_t, error) {
	var list C.thread_act_array_t
	var count C.mach_msg_type_number_t
	if kr := C.swipr_list_threads(&list, &count); kr != C.KERN_SUCCESS {
		return nil, errors.Wrapf(ErrEnumerationFailed, "task_threads: kern_return_t %d", int(kr))
	}
	defer C.vm_deallocate(C.mach_task_self(), C.vm_address_t(uintptr(unsafe.Pointer(list))), C.vm_size_t(uintptr(count)*unsafe.Sizeof(C.thread_act_t(0))))

	n := int(count)
	ports := unsafe.Slice((*C.thread_act_t)(unsafe.Pointer(list)), n)
	for _, port := range ports {
		pt := C.pthread_from_mach_thread_np(port)
		if pt == nil {
			continue
		}
		var tid uint64
		C.pthread_threadid_np(pt, (*C.__uint64_t)(unsafe.Pointer(&tid)))
		if ThreadID(tid) == id {
			return pt, nil
		}
	}
	return nil, errors.New("platform: thread not found")
}

// SetCurrentThreadName renames the calling OS thread, best effort.
func SetCurrentThreadName(name string) error {
	if len(name) > NameLen-1 {
		name = name[:NameLen-1]
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	C.pthread_setname_np(cname)
	return nil
}
