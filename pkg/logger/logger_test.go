package logger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoggerInit(t *testing.T) {
	err := Init()
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	logger := Get()
	if logger == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerWritesPlainTextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	var console bytes.Buffer
	if err := Init(WithFile(path), WithOutput(zapcore.AddSync(&console))); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	ctx := context.Background()
	Get().Named("test").Info(ctx, "hello file", String("k", "v"), Error(errors.New("boom")))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{"INFO", "test", "hello file", `"k": "v"`, "boom"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("log file missing %q: %s", want, data)
		}
	}
	if !bytes.Contains(console.Bytes(), []byte("hello file")) {
		t.Errorf("console output missing message: %s", console.String())
	}
}

func TestLoggerLevel(t *testing.T) {
	var console bytes.Buffer
	if err := Init(WithOutput(zapcore.AddSync(&console))); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = SetLevelString("info") }()

	ctx := context.Background()
	Get().Debug(ctx, "hidden at info")
	if bytes.Contains(console.Bytes(), []byte("hidden at info")) {
		t.Error("debug line written at info level")
	}

	if err := SetLevelString("debug"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	Get().Debug(ctx, "visible at debug")
	if !bytes.Contains(console.Bytes(), []byte("visible at debug")) {
		t.Error("debug line missing at debug level")
	}

	if err := SetLevelString("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Named("x").Warn(context.Background(), "dropped", Int("n", 1))
}
