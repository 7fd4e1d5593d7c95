// Command freshctl reads and polls backend endpoints through a freshline
// data layer and prints the snapshots it observes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
