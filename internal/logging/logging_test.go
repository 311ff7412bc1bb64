package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestLibrarySilent(t *testing.T) {
	base := zap.NewNop()
	for _, level := range []string{"", "silent", "fatal"} {
		assert.Equal(t, waLog.Noop, Library(base, level), "level %q", level)
	}
}

func TestLibraryForwardsToZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	lib := Library(zap.New(core), "warn")

	lib.Infof("dropped %d", 1)
	lib.Sub("Socket").Warnf("kept %s", "warning")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "kept warning", entries[0].Message)
		assert.Equal(t, "whatsmeow.Socket", entries[0].LoggerName)
	}
}
