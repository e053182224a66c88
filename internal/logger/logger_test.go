package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("无效级别回退到info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "verbose"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zap.InfoLevel))
		assert.False(t, log.Core().Enabled(zap.DebugLevel))
	})

	t.Run("写入轮转日志文件", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "bot.log")

		log, err := NewLogger(Config{Level: "debug", LogFile: logFile})
		require.NoError(t, err)

		log.Info("mailbox created", zap.Int64("user_id", 1))
		_ = log.Sync()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "mailbox created")
	})
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	log := zap.NewExample()
	assert.Same(t, log, OrNop(log))
}
