//go:build windows

package cmd

import "os"

// notifySessionDump is a no-op: Windows has no SIGUSR1.
func notifySessionDump(ch chan<- os.Signal) {}
