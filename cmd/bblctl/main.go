// Command bblctl inspects a study's resource bundle offline and drives load
// against a running baseline server.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
