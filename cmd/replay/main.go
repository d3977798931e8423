// Command replay serves a recording reverse proxy and inspects fixtures.
package main

import (
	"context"
	"errors"
	"fmt"
	"log" //nolint:depguard // non-o11y log is allowed for a top-level fatal
	"os"

	"github.com/alecthomas/kong"
	"github.com/gwatts/rootcerts"

	"github.com/circleci/replay/config/o11y"
	"github.com/circleci/replay/config/secret"
	"github.com/circleci/replay/termination"
)

// Version and Date are set at build time.
var (
	Version = "dev"
	Date    = "unknown"
)

type cli struct {
	O11yStatsd           string        `name:"o11y-statsd" env:"O11Y_STATSD" help:"Address to send statsd metrics"`
	O11yHoneycombEnabled bool          `name:"o11y-honeycomb" env:"O11Y_HONEYCOMB" help:"Send traces to honeycomb"`
	O11yHoneycombDataset string        `name:"o11y-honeycomb-dataset" env:"O11Y_HONEYCOMB_DATASET" default:"replay"`
	O11yHoneycombKey     secret.String `name:"o11y-honeycomb-key" env:"O11Y_HONEYCOMB_KEY"`
	O11yFormat           string        `name:"o11y-format" env:"O11Y_FORMAT" enum:"json,color,text" default:"text" help:"Format used for stderr logging"`
	O11yRollbarToken     secret.String `name:"o11y-rollbar-token" env:"O11Y_ROLLBAR_TOKEN"`
	O11yRollbarEnv       string        `name:"o11y-rollbar-env" env:"O11Y_ROLLBAR_ENV" default:"development"`

	Proxy   proxyCmd   `cmd:"" help:"Serve a recording reverse proxy in front of an upstream"`
	Inspect inspectCmd `cmd:"" help:"List the recordings in a fixture"`
}

func init() {
	err := rootcerts.UpdateDefaultTransport()
	if err != nil {
		panic(fmt.Errorf("failed to inject rootcerts: %w", err))
	}
}

func main() {
	err := run()
	if err != nil && !errors.Is(err, termination.ErrTerminated) {
		log.Fatal("Unexpected Error: ", err)
	}
}

func run() error {
	c := cli{}
	kctx := kong.Parse(&c,
		kong.Name("replay"),
		kong.Description("Record HTTP interactions once, replay them forever."),
	)

	ctx, o11yCleanup, err := loadO11y(kctx.Command(), c)
	if err != nil {
		return err
	}
	defer o11yCleanup(ctx)

	switch kctx.Command() {
	case "proxy":
		return c.Proxy.run(ctx)
	case "inspect <location>":
		return c.Inspect.run(ctx, os.Stdout)
	}
	return fmt.Errorf("unknown command %q", kctx.Command())
}

func loadO11y(mode string, c cli) (context.Context, func(context.Context), error) {
	return o11y.Setup(context.Background(), o11y.Config{
		Statsd:            c.O11yStatsd,
		RollbarToken:      c.O11yRollbarToken,
		RollbarEnv:        c.O11yRollbarEnv,
		RollbarServerRoot: "github.com/circleci/replay",
		HoneycombEnabled:  c.O11yHoneycombEnabled,
		HoneycombDataset:  c.O11yHoneycombDataset,
		HoneycombKey:      c.O11yHoneycombKey,
		Format:            c.O11yFormat,
		Version:           Version,
		Service:           "replay",
		StatsNamespace:    "circleci.replay.",
		Mode:              mode,
	})
}
