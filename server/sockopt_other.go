//go:build !unix

package server

import "syscall"

func setSocketOptions(_, _ string, _ syscall.RawConn) error {
	return nil
}
