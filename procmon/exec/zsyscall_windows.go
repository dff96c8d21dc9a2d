package exec

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procPeekNamedPipe = modkernel32.NewProc("PeekNamedPipe")
)

// peekNamedPipe calls PeekNamedPipe, which x/sys/windows does not export.
func peekNamedPipe(pipe windows.Handle, buf *byte, size uint32, read *uint32, avail *uint32, left *uint32) error {
	r1, _, e1 := procPeekNamedPipe.Call(
		uintptr(pipe),
		uintptr(unsafe.Pointer(buf)),
		uintptr(size),
		uintptr(unsafe.Pointer(read)),
		uintptr(unsafe.Pointer(avail)),
		uintptr(unsafe.Pointer(left)),
	)
	if r1 == 0 {
		if e1 == windows.ERROR_SUCCESS {
			return windows.ERROR_INVALID_FUNCTION
		}
		return e1
	}
	return nil
}
