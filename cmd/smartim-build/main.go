// smartim-build builds, signs, verifies and publishes the Smart IM Switcher
// IDE plugin. It derives the plugin version from version.properties and
// increments the patch component after every successful release package.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/litescript/smartim-build/cmd/smartim-build/commands"
)

const (
	cmdName = "smartim-build"

	shortDesc = "Build tool for the Smart IM Switcher plugin."
	longDesc  = `Build tool for the Smart IM Switcher IDE plugin.

Versions are read from version.properties. Snapshot builds produce
X.Y.Z-SNAPSHOT artifacts; release builds produce X.Y.Z and increment the
stored patch number once the distribution has been packaged.
`
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd := commands.NewRootCmd(cmdName, shortDesc, longDesc)
	err := cmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimLeft(err.Error(), "\n"))
		os.Exit(1)
	}
}
