//go:build darwin

package delivery

// #cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation
// #include <stdlib.h>
// #include <ApplicationServices/ApplicationServices.h>
//
// static int axInsert(const char *text) {
//     if (!AXIsProcessTrusted()) return -1;
//     AXUIElementRef sys = AXUIElementCreateSystemWide();
//     CFTypeRef focused = NULL;
//     AXError err = AXUIElementCopyAttributeValue(sys, kAXFocusedUIElementAttribute, &focused);
//     CFRelease(sys);
//     if (err != kAXErrorSuccess || focused == NULL) return -2;
//     CFStringRef str = CFStringCreateWithCString(NULL, text, kCFStringEncodingUTF8);
//     err = AXUIElementSetAttributeValue((AXUIElementRef)focused, kAXSelectedTextAttribute, str);
//     CFRelease(str);
//     CFRelease(focused);
//     return err == kAXErrorSuccess ? 0 : (int)err;
// }
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

var errNoFocus = errors.New("no focused element")

func axInsert(text string) error {
	cstr := C.CString(text)
	defer C.free(unsafe.Pointer(cstr))

	switch rc := C.axInsert(cstr); rc {
	case 0:
		return nil
	case -1:
		return ErrPermission
	case -2:
		return errNoFocus
	default:
		return fmt.Errorf("set selected text: AXError %d", int(rc))
	}
}
