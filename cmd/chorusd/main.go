// Command chorusd runs a chorus validator or observer node: it wires a
// tmengine.Engine to durable storage, a libp2p gossip transport, and a
// read-only debug endpoint, the way the teacher repo's cmd/ binaries wire
// an engine to a concrete host application.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
