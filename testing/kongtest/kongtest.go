// Package kongtest parses kong command lines inside tests, turning exits and
// parse failures into test failures.
package kongtest

import (
	"bytes"
	"io"
	"testing"

	"github.com/alecthomas/kong"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

const appName = "test-app"

func newApp(t testing.TB, cli interface{}, out io.Writer, exit func(int)) *kong.Kong {
	t.Helper()
	app, err := kong.New(cli,
		kong.Name(appName),
		kong.Writers(out, out),
		kong.Exit(exit),
	)
	assert.Assert(t, err)
	return app
}

// Help renders the --help output of cli, checking it exits cleanly.
func Help(t testing.TB, cli interface{}) string {
	t.Helper()
	out := &bytes.Buffer{}
	code := -1
	app := newApp(t, cli, out, func(c int) { code = c })

	_, err := app.Parse([]string{"--help"})
	assert.Check(t, err)
	assert.Check(t, cmp.Equal(code, 0))
	return out.String()
}

// Parse parses args into cli, returning the selected command.
func Parse(t testing.TB, cli interface{}, args ...string) string {
	t.Helper()
	out := &bytes.Buffer{}
	app := newApp(t, cli, out, func(c int) {
		t.Fatalf("exited %d: %s", c, out)
	})

	kctx, err := app.Parse(args)
	assert.Assert(t, err)
	return kctx.Command()
}

// ParseError parses args into cli and returns the parse failure, failing the
// test if there was none.
func ParseError(t testing.TB, cli interface{}, args ...string) error {
	t.Helper()
	app := newApp(t, cli, io.Discard, func(int) {})

	_, err := app.Parse(args)
	assert.Assert(t, err != nil, "expected %q to be rejected", args)
	return err
}
