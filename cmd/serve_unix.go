//go:build !windows

package cmd

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySessionDump delivers SIGUSR1, which asks the server to log its session table.
func notifySessionDump(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGUSR1)
}
