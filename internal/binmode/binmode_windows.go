//go:build windows

package binmode

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// On Windows the C runtime's stdio layer still applies text-mode LF->CRLF
// translation to fd 1 even when it's a pipe, not a console. There is no
// kernel32/SetConsoleMode equivalent for a pipe handle; the fix has to go
// through msvcrt's _setmode, the same call C programs use for this.
const oBinary = 0x8000

var (
	msvcrt      = windows.NewLazySystemDLL("msvcrt.dll")
	procSetMode = msvcrt.NewProc("_setmode")
	stdoutCRTFD = 1
)

func enable() error {
	ret, _, err := procSetMode.Call(uintptr(stdoutCRTFD), uintptr(oBinary))
	if int32(ret) < 0 {
		return fmt.Errorf("binmode: _setmode(stdout, O_BINARY): %w", err)
	}
	return nil
}
