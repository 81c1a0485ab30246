package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/alecthomas/kong"
)

const appName = "boltcache"

// Version is set via build flag -ldflags -X main.Version
var (
	Version  = "dev"
	Revision string
)

var cli struct {
	Serve   serveCmd   `cmd:"" passthrough:"" help:"Run the cache and its admin API. Flags after 'serve' use the -section.setting form, see 'serve -help'."`
	Config  configCmd  `cmd:"" passthrough:"" help:"Print the effective configuration with credentials redacted."`
	Inspect inspectCmd `cmd:"" help:"List the durable records of a namespace in a bolt file or Redis."`
	Token   tokenCmd   `cmd:"" help:"Issue an HS256 bearer token for the admin API."`
	Version versionCmd `cmd:"" help:"Print version information."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(appName),
		kong.Description("In-process cache with durable backing and request deduplication."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

type versionCmd struct{}

func (cmd *versionCmd) Run() error {
	fmt.Fprintf(os.Stdout, "%s, version %s (revision: %s)\n", appName, Version, Revision)
	fmt.Fprintf(os.Stdout, "  go version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
