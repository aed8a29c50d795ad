// Command strixprobe connects to a server with the strixlink engine, sends
// stdin lines as frames and prints what comes back.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "strixprobe:", err)
		os.Exit(1)
	}
}
