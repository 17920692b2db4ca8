// Command docsync runs the offline-first document sync server: generate
// API credentials for embedding applications, or serve the authenticated
// websocket sync endpoint that reconciles client replicas against the
// authoritative store.
package main

import "github.com/evalgo/docsync/cli"

func main() {
	cli.Execute()
}
