//go:build windows

package main

import "os/exec"

// Windows doesn't use Setsid; a started process already outlives the TUI.
func configureDaemonProc(cmd *exec.Cmd) {}
