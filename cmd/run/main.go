// Command run loads a WebAssembly module through the C API binding, lists
// its imports and exports, and calls an exported function.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
