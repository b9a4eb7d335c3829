package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestFileOnlyLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	file, err := NewLogFile(path)
	if err != nil {
		t.Fatalf("Failed to create log file: %v", err)
	}

	log := NewLogger(file, "sim", true)
	log.Infof("process %d entered", 3)
	log.WithPostfix("P1").Warn("deferred")
	file.Close()

	content := readLog(t, path)
	if !strings.Contains(content, "process 3 entered") {
		t.Errorf("Expected info message in log, got %q", content)
	}
	if !strings.Contains(content, "logger=\"sim|P1\"") {
		t.Errorf("Expected postfixed logger name in log, got %q", content)
	}
	if !strings.Contains(content, "level=warning") {
		t.Errorf("Expected warning level in log, got %q", content)
	}
}

func TestLogLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	file, err := NewLogFile(path)
	if err != nil {
		t.Fatalf("Failed to create log file: %v", err)
	}

	log := NewLogger(file, "sim", true).WithLogLevel(WARN)
	log.Info("hidden")
	log.Warn("shown")
	log.Errorf("also %s", "shown")
	file.Close()

	content := readLog(t, path)
	if strings.Contains(content, "hidden") {
		t.Errorf("Info message should have been filtered, got %q", content)
	}
	if strings.Count(content, "shown") != 2 {
		t.Errorf("Expected two messages above WARN, got %q", content)
	}
}

func TestNewLogFileInvalidPath(t *testing.T) {
	if _, err := NewLogFile(filepath.Join(t.TempDir(), "missing", "test.log")); err == nil {
		t.Error("Expected an error when the directory does not exist")
	}
}
