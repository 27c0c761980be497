// Command exttable manages extension tables from the command line: it
// renders and applies table definitions, evolves and drops tables, and
// bootstraps the bookkeeping schema.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
