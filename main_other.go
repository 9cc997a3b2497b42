//go:build !linux

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The global hotkey has to be registered from the main thread on macOS.
func main() {
	mainthread.Init(run)
}
