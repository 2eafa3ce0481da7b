package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes the root command with args, resetting the package-level
// --root/--json flag state each call (NewRootCmd rebinds them), and
// captures whatever the command printed to stdout.
func runCLI(t *testing.T, root string, args ...string) string {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	cmd := NewRootCmd()
	cmd.SetArgs(append([]string{"--root", root}, args...))
	runErr := cmd.Execute()

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)

	if runErr != nil {
		t.Fatalf("ddmq %s: %v (output: %s)", strings.Join(args, " "), runErr, buf.String())
	}
	return buf.String()
}

func TestCLIPublishConsumeAckLifecycle(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ddmq-root")

	runCLI(t, root, "create", "orders")
	runCLI(t, root, "publish", "orders", "hello world")

	out := runCLI(t, root, "--json", "view", "orders")
	var list struct {
		Waiting []struct {
			ID       string `json:"id"`
			Filename string `json:"filename"`
		} `json:"Waiting"`
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode view output: %v (raw: %s)", err, out)
	}
	if len(list.Waiting) != 1 {
		t.Fatalf("view: got %d waiting messages, want 1", len(list.Waiting))
	}

	out = runCLI(t, root, "--json", "consume", "orders")
	var consumed []struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal([]byte(out), &consumed); err != nil {
		t.Fatalf("decode consume output: %v (raw: %s)", err, out)
	}
	if len(consumed) != 1 || consumed[0].Filename == "" {
		t.Fatalf("consume: got %+v, want one leased message with a filename", consumed)
	}

	runCLI(t, root, "ack", "orders", consumed[0].Filename)

	out = runCLI(t, root, "--json", "view", "orders")
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode post-ack view output: %v (raw: %s)", err, out)
	}
	if len(list.Waiting) != 0 {
		t.Errorf("view after ack: got %d waiting messages, want 0", len(list.Waiting))
	}
}

func TestCLIQueuesListsCreatedQueues(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ddmq-root")

	runCLI(t, root, "create", "a")
	runCLI(t, root, "create", "b")

	out := runCLI(t, root, "--json", "queues")
	var payload struct {
		Queues []string `json:"queues"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode queues output: %v (raw: %s)", err, out)
	}
	if len(payload.Queues) != 2 {
		t.Errorf("queues: got %v, want 2 entries", payload.Queues)
	}
}

func TestCLIVersionPrintsVersionString(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ddmq-root")
	out := runCLI(t, root, "--json", "version")

	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode version output: %v (raw: %s)", err, out)
	}
	if payload["version"] == "" {
		t.Error("expected a non-empty version string")
	}
}
