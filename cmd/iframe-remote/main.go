// Command iframe-remote runs either side of a host/frame channel over TCP or
// an etcd mailbox.
//
//	iframe-remote serve                       # embedded side: demo functions + devtools
//	iframe-remote call add 10 20              # host side: one rpc call
//	iframe-remote request '{"type":"ping"}'   # host side: one messenger request
//	iframe-remote devtools list
//	iframe-remote devtools call __greet '"World"'
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
