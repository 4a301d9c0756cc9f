//go:build cgo && (linux || darwin)

package native

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef void* (*esbridge_transform_fn)(const char*);
typedef void (*esbridge_free_fn)(void*);

static void* esbridge_dlopen(const char* path) {
	return dlopen(path, RTLD_LAZY | RTLD_LOCAL);
}

// Clear dlerror, look the symbol up, and surface the error alongside the
// result so NULL-valued symbols are distinguishable from failures.
static void* esbridge_dlsym(void* handle, const char* name, char** err) {
	dlerror();
	void* sym = dlsym(handle, name);
	char* e = dlerror();
	if (e) { if (err) *err = e; return NULL; }
	if (err) *err = NULL;
	return sym;
}

static void* esbridge_call_transform(void* fn, const char* request) {
	return ((esbridge_transform_fn)fn)(request);
}

static void esbridge_call_free(void* fn, void* ptr) {
	((esbridge_free_fn)fn)(ptr);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// dlLibrary is a shared object opened with dlopen. All fields are
// read-only after open.
type dlLibrary struct {
	handle      unsafe.Pointer
	transformFn unsafe.Pointer
	freeFn      unsafe.Pointer
	buildFn     unsafe.Pointer // nil when the library predates build support
}

func open(path string) (library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.esbridge_dlopen(cpath)
	if handle == nil {
		return nil, fmt.Errorf("dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	lib := &dlLibrary{handle: handle}

	var err error
	if lib.transformFn, err = lookup(handle, "transform"); err != nil {
		C.dlclose(handle)
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if lib.freeFn, err = lookup(handle, "free"); err != nil {
		C.dlclose(handle)
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	// build is optional; older artifacts only export transform/free.
	lib.buildFn, _ = lookup(handle, "build")

	return lib, nil
}

func lookup(handle unsafe.Pointer, name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var cerr *C.char
	sym := C.esbridge_dlsym(handle, cname, &cerr)
	if cerr != nil {
		return nil, fmt.Errorf("dlsym %s: %s", name, C.GoString(cerr))
	}
	return sym, nil
}

func (l *dlLibrary) call(fn unsafe.Pointer, request []byte) buffer {
	// C.CString null-terminates the request; the library only borrows it
	// for the duration of the call.
	creq := C.CString(string(request))
	defer C.free(unsafe.Pointer(creq))

	ptr := C.esbridge_call_transform(fn, creq)
	if ptr == nil {
		return nil
	}
	return &foreignBuffer{lib: l, ptr: ptr}
}

func (l *dlLibrary) transform(request []byte) buffer {
	return l.call(l.transformFn, request)
}

func (l *dlLibrary) build(request []byte) (buffer, bool) {
	if l.buildFn == nil {
		return nil, false
	}
	return l.call(l.buildFn, request), true
}

func (l *dlLibrary) close() error {
	if C.dlclose(l.handle) != 0 {
		return fmt.Errorf("dlclose: %s", C.GoString(C.dlerror()))
	}
	return nil
}

// foreignBuffer owns one null-terminated UTF-8 buffer allocated by the
// library. Ownership transferred to us on return from the call.
type foreignBuffer struct {
	lib *dlLibrary
	ptr unsafe.Pointer
}

func (b *foreignBuffer) bytes() []byte {
	if b.ptr == nil {
		return nil
	}
	return []byte(C.GoString((*C.char)(b.ptr)))
}

func (b *foreignBuffer) free() {
	if b.ptr == nil {
		return
	}
	C.esbridge_call_free(b.lib.freeFn, b.ptr)
	b.ptr = nil
}
