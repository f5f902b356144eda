// dmscli is a command-line harness for the DMS JSON Data Exchange client:
// it reads, writes, renames, deletes and monitors datapoints on a running
// DMS server.
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
