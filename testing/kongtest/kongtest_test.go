package kongtest

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

type flags struct {
	Location    string        `default:"testdata/items.json" env:"REPLAY_LOCATION"`
	Port        int           `default:"8080"`
	Strict      bool          `default:"true"`
	DialTimeout time.Duration `default:"10s"`
}

func TestHelp(t *testing.T) {
	var c flags
	s := Help(t, &c)
	assert.Check(t, cmp.Contains(s, "Usage: test-app"))
	assert.Check(t, cmp.Contains(s, "--location="))
	assert.Check(t, cmp.Contains(s, "($REPLAY_LOCATION)"))
}

func TestParse_Defaults(t *testing.T) {
	var c flags
	Parse(t, &c)
	assert.Check(t, cmp.DeepEqual(c, flags{
		Location:    "testdata/items.json",
		Port:        8080,
		Strict:      true,
		DialTimeout: 10 * time.Second,
	}))
}

func TestParse_Env(t *testing.T) {
	t.Setenv("REPLAY_LOCATION", "s3://fixtures/items.json")
	var c flags
	Parse(t, &c)
	assert.Check(t, cmp.Equal(c.Location, "s3://fixtures/items.json"))
}

func TestParse_Command(t *testing.T) {
	var c struct {
		Inspect struct {
			Location string `arg:""`
		} `cmd:""`
	}
	cmd := Parse(t, &c, "inspect", "items.json")
	assert.Check(t, cmp.Equal(cmd, "inspect <location>"))
	assert.Check(t, cmp.Equal(c.Inspect.Location, "items.json"))
}

func TestParseError(t *testing.T) {
	var c flags
	err := ParseError(t, &c, "--port", "eighty")
	assert.Check(t, cmp.ErrorContains(err, "--port"))
}
