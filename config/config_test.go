package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := Load("")
	assert.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TIMEZONE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", cfg.Timezone.String())
	assert.Equal(t, 1000*time.Second, cfg.DialogTTL)
	assert.Equal(t, 4, cfg.DeliveryWorkers)
	assert.False(t, cfg.APIEnabled())
	assert.False(t, cfg.CalDAVEnabled())
}

func TestLoadInvalidTimezone(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TIMEZONE", "Mars/Olympus")

	_, err := Load("")
	assert.ErrorContains(t, err, "TIMEZONE")
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remindbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"telegram_bot_token: from-file\n"+
			"timezone: Asia/Yekaterinburg\n"+
			"api_username: admin\n"+
			"api_password: secret\n"+
			"dialog_ttl: 5m\n"), 0o600))
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("TIMEZONE", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.TelegramToken)
	assert.Equal(t, "Asia/Yekaterinburg", cfg.Timezone.String())
	assert.Equal(t, 5*time.Minute, cfg.DialogTTL)
	assert.True(t, cfg.APIEnabled())
}
