package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "node.log")
	logger, closeFn, err := NewLoggerWithFile(path)
	if err != nil {
		t.Fatalf("NewLoggerWithFile: %v", err)
	}
	logger.Sugar().Infow("order_created", "id", 1)
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"order_created"`, `"id":1`, `"ts":`, `"level":"INFO"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}
