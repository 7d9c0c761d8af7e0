package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/transport"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBackendScript answers the version probe, then speaks the line protocol:
// pong for pings, a fixed transcript for anything else.
const fakeBackendScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "fake-whisper 1.0"
  exit 0
fi
while IFS= read -r line; do
  case "$line" in
  *'"ping"'*)
    printf '%s\n' '{"pong":true}'
    ;;
  *)
    printf '%s\n' '{"text":"hello from fake backend","language":"en","language_probability":0.8,"device":"cpu"}'
    ;;
  esac
done
`

func writeFakeBackend(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake backend script requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "fake-whisper")
	if err := os.WriteFile(path, []byte(fakeBackendScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func localConfig(command string) config.EngineConfig {
	return config.EngineConfig{
		Mode:             "local",
		Model:            "tiny",
		Command:          command,
		SampleRate:       16000,
		StartupGraceMS:   5000,
		RequestTimeoutMS: 1000,
		StopGraceMS:      1000,
	}
}

func TestLocalEnsureReadyNoCandidates(t *testing.T) {
	cfg := localConfig("")
	cfg.Candidates = []string{"definitely-not-a-real-binary-1", "definitely-not-a-real-binary-2"}
	l := NewLocal(cfg, newTestLogger())

	_, err := l.EnsureReady(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if l.State() != Uninitialized {
		t.Fatalf("expected Uninitialized after failed start, got %v", l.State())
	}
}

func TestLocalLifecycle(t *testing.T) {
	script := writeFakeBackend(t)
	l := NewLocal(localConfig(script), newTestLogger())
	defer l.Terminate()

	ch, err := l.EnsureReady(context.Background())
	if err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if l.State() != Ready {
		t.Fatalf("expected Ready, got %v", l.State())
	}

	// idempotent: same channel comes back without a second start
	again, err := l.EnsureReady(context.Background())
	if err != nil {
		t.Fatalf("second ensure ready: %v", err)
	}
	if again != ch {
		t.Fatal("expected the same channel on repeated EnsureReady")
	}

	resp, err := ch.Send(context.Background(), transport.Request{Action: transport.ActionTranscribe, Model: "tiny"})
	if err != nil {
		t.Fatalf("transcribe via backend: %v", err)
	}
	if resp.Text != "hello from fake backend" {
		t.Fatalf("unexpected text %q", resp.Text)
	}

	l.Terminate()
	if l.State() != Terminated {
		t.Fatalf("expected Terminated, got %v", l.State())
	}
	// terminate again is a no-op
	l.Terminate()
}

func TestLocalMarkBusy(t *testing.T) {
	script := writeFakeBackend(t)
	l := NewLocal(localConfig(script), newTestLogger())
	defer l.Terminate()

	if _, err := l.EnsureReady(context.Background()); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	l.MarkBusy(true)
	if l.State() != Busy {
		t.Fatalf("expected Busy, got %v", l.State())
	}
	l.MarkBusy(false)
	if l.State() != Ready {
		t.Fatalf("expected Ready, got %v", l.State())
	}
}

func TestLocalEnsureReadyConcurrentSingleStart(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake backend script requires a unix shell")
	}
	dir := t.TempDir()
	countFile := filepath.Join(dir, "spawns")
	script := filepath.Join(dir, "counting-whisper")
	body := fmt.Sprintf(`#!/bin/sh
if [ "$1" = "--version" ]; then
  exit 0
fi
echo started >> %q
while IFS= read -r line; do
  printf '%%s\n' '{"pong":true}'
done
`, countFile)
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLocal(localConfig(script), newTestLogger())
	defer l.Terminate()

	const callers = 4
	channels := make([]transport.Channel, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			channels[i], errs[i] = l.EnsureReady(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if channels[i] != channels[0] {
			t.Fatalf("caller %d got a different channel", i)
		}
	}

	spawns, err := os.ReadFile(countFile)
	if err != nil {
		t.Fatalf("read spawn count: %v", err)
	}
	if got := strings.Count(string(spawns), "started"); got != 1 {
		t.Fatalf("expected exactly one backend start, got %d", got)
	}
}

func TestLocalProbeFindsCandidate(t *testing.T) {
	script := writeFakeBackend(t)
	cfg := localConfig("")
	cfg.Candidates = []string{"definitely-not-a-real-binary", script}
	l := NewLocal(cfg, newTestLogger())
	defer l.Terminate()

	if _, err := l.EnsureReady(context.Background()); err != nil {
		t.Fatalf("ensure ready via probe: %v", err)
	}
}
