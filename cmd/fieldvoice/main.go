// Command fieldvoice conducts spoken interviews against the interview API
// on a field device: it drives the microphone, camera and speaker, serves
// the local UI hub and keeps recordings that could not be uploaded.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "fieldvoice:", err)
		}
		os.Exit(1)
	}
}
