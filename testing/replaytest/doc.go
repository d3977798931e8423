/*
Package replaytest wires replay into tests.

Start routes a client through a fixture for the duration of a test:

	func TestListItems(t *testing.T) {
		client := &http.Client{}
		replaytest.Start(t, client, "testdata/list_items.json", replaytest.Options{})
		...
	}

The first run records into testdata/list_items.json, later runs replay from it.
Set REPLAY_MODE=replay-only on CI so a missing recording fails the test rather
than reaching out to the network.

Upstream is a fake server that remembers every request it receives, for
asserting how often the network was really used.
*/
package replaytest
