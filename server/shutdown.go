package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/meshchat/chat/server/logs"
)

// waitForSignal blocks until the process receives an interrupt or
// termination signal.
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logs.Info.Printf("received signal '%s'", sig)
}
