//go:build unix

package supervisor

import "syscall"

// setsidAttr puts the job's process in its own session so a cancellation
// signal can be delivered without affecting the daemon's own process group.
func setsidAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
