package log

import (
	"bytes"
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// mockWriteSyncer is a mock implementation of the zapcore.WriteSyncer interface for testing purposes.
type mockWriteSyncer struct {
	buffer bytes.Buffer
}

func (m *mockWriteSyncer) Write(p []byte) (n int, err error) {
	return m.buffer.Write(p)
}

func (m *mockWriteSyncer) Sync() error {
	return nil
}

func newBufferedLogger(level zapcore.Level) (*zapLogger, *mockWriteSyncer) {
	mock := &mockWriteSyncer{}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), mock, level)
	return &zapLogger{logger: zap.New(core)}, mock
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewLogger(ctx)
	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
}

func TestWithLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewLogger(ctx)
	ctxWithLogger := WithLogger(ctx, logger)
	if ctxWithLogger.Value(loggerKey) == nil {
		t.Fatal("Expected logger to be set in context")
	}
	if got := NewLogger(ctxWithLogger); got != logger {
		t.Fatal("Expected NewLogger to return the logger carried by the context")
	}
}

func TestDebug(t *testing.T) {
	logger, mock := newBufferedLogger(zap.DebugLevel)
	logger.Debug("debug message", zap.String("snap", "firefox"))
	if !bytes.Contains(mock.buffer.Bytes(), []byte("debug message")) {
		t.Fatalf("Expected debug message to be logged, got %s", mock.buffer.String())
	}
	if !bytes.Contains(mock.buffer.Bytes(), []byte("firefox")) {
		t.Fatalf("Expected zap field to be logged, got %s", mock.buffer.String())
	}
}

func TestInfoDropsNonZapFields(t *testing.T) {
	logger, mock := newBufferedLogger(zap.InfoLevel)
	logger.Info("info message", "not-a-field", zap.Int("revision", 42))
	if !bytes.Contains(mock.buffer.Bytes(), []byte("revision")) {
		t.Fatalf("Expected zap field to survive, got %s", mock.buffer.String())
	}
	if bytes.Contains(mock.buffer.Bytes(), []byte("not-a-field")) {
		t.Fatalf("Expected non zap fields to be dropped, got %s", mock.buffer.String())
	}
}

func TestWarnAndError(t *testing.T) {
	logger, mock := newBufferedLogger(zap.WarnLevel)
	logger.Warn("warn message")
	logger.Error("error message")
	if !bytes.Contains(mock.buffer.Bytes(), []byte("warn message")) {
		t.Fatalf("Expected warn message to be logged, got %s", mock.buffer.String())
	}
	if !bytes.Contains(mock.buffer.Bytes(), []byte("error message")) {
		t.Fatalf("Expected error message to be logged, got %s", mock.buffer.String())
	}
}
