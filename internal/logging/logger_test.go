package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitAndLog(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug", Debug: true})
	defer Shutdown()

	Logger().Info("hello", "key", "value")
	ForComponent(CompStatus).Debug("component_message")

	data, err := os.ReadFile(filepath.Join(dir, "tower.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "hello") {
		t.Errorf("log missing info message: %s", content)
	}
	if !strings.Contains(content, "component_message") {
		t.Errorf("log missing component message: %s", content)
	}
}

func TestForComponentAttachesComponentField(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug", Debug: true})
	defer Shutdown()

	ForComponent(CompSched).Info("tick")

	data, err := os.ReadFile(filepath.Join(dir, "tower.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var found bool
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec["msg"] == "tick" && rec["component"] == CompSched {
			found = true
		}
	}
	if !found {
		t.Errorf("no record with component=%s in: %s", CompSched, data)
	}
}

func TestDiscardWithoutDebug(t *testing.T) {
	Init(Config{})
	defer Shutdown()

	// Must not panic and must not create files anywhere.
	Logger().Info("discarded")
	ForComponent(CompWeb).Warn("also discarded")
}

func TestLoggerBeforeInit(t *testing.T) {
	Shutdown()
	// Safe to use before Init.
	Logger().Info("no init yet")
	ForComponent(CompStore).Info("no init yet either")
}
