// Command jobhub runs a JobHub server and talks to one.
//
//	jobhub serve --config jobhub.yaml
//	jobhub submit --output out.txt -- sh -c 'echo hi > out.txt'
//	jobhub watch <job-id>
//	jobhub download <job-id> -o out.zip
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
