// Command pdsctl signs in to an atproto Personal Data Server and calls XRPC
// methods with the stored session, renewing it transparently.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucid-softworks/akari/internal/app"
	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/ui/components"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, components.RenderError(apperrors.Describe(err)))
		os.Exit(1)
	}
}
