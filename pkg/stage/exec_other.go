//go:build !unix

package stage

import "os/exec"

// setProcessGroup is a no-op where process groups are unavailable; context
// cancellation then kills only the direct child.
func setProcessGroup(cmd *exec.Cmd) {}
