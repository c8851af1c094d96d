// Command gitidx inspects and edits git index files.
//
//	gitidx --repo . ls
//	gitidx --index /tmp/index --worktree src --objects /tmp/objects add main.go
//	gitidx sig "Jane Doe" jane@example.com --offset 60
package main

import (
	"fmt"
	"os"

	"github.com/meigma/gitbind"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gitidx: %v (code %d)\n", err, gitbind.Code(err))
		os.Exit(1)
	}
}
