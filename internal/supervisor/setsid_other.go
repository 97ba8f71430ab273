//go:build !unix

package supervisor

import "syscall"

func setsidAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
