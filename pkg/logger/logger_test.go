package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitWritesToFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	if err := Init(Config{Level: "debug", Format: "text", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	ForTask("task-42").Debug("agent is loaded")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), "task_id=task-42") {
		t.Fatalf("expected task id in log, got %q", content)
	}
}

func TestRotatingWriterKeepsBoundedBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	writer, err := newRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	writer.maxSize = 16
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	writer.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 6; i++ {
		if _, err := writer.Write([]byte("0123456789abcdef")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d: %v", len(backups), backups)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if parseLevel("verbose").String() != "INFO" {
		t.Fatalf("unknown levels should fall back to info")
	}
	if parseLevel("WARNING").String() != "WARN" {
		t.Fatalf("warning alias not recognised")
	}
}
