// Command taskboard serves the task board, runs the document service and
// inspects stored tasks.
package main

import (
	"context"
	"fmt"
	"os"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
