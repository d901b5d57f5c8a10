//go:build windows

package executor

import "os/exec"

// killProcessTree keeps the default cancel, which kills the direct child. WaitDelay
// releases Run if a grandchild still holds the output pipes.
func killProcessTree(_ *exec.Cmd) {}
