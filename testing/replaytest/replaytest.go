package replaytest

import (
	"net/http"
	"os"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/circleci/replay/engine"
	"github.com/circleci/replay/fingerprint"
	"github.com/circleci/replay/storage"
	"github.com/circleci/replay/testing/testcontext"
	"github.com/circleci/replay/transport"
)

// ModeEnv overrides Options.Mode when set, see transport.ParseMode.
const ModeEnv = "REPLAY_MODE"

type Options struct {
	Keys fingerprint.Keys
	Mode transport.Mode
}

// Start routes the requests of client through the fixture at location until
// the test finishes, on success or failure.
func Start(t testing.TB, client *http.Client, location string, opts Options) *engine.Engine {
	t.Helper()

	mode := opts.Mode
	if env := os.Getenv(ModeEnv); env != "" {
		var err error
		mode, err = transport.ParseMode(env)
		assert.Assert(t, err)
	}

	store, err := storage.Open(testcontext.Background(), location)
	assert.Assert(t, err)

	e := engine.New(engine.Config{Store: store, Keys: opts.Keys})
	restore := transport.Enable(client, e, transport.Options{Mode: mode})
	t.Cleanup(restore)
	return e
}
