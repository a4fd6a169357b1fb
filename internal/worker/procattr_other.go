//go:build !unix

package worker

import "os/exec"

// configureProcess keeps the default behavior of killing only the direct
// child on cancellation.
func configureProcess(*exec.Cmd) {}
