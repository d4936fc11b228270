package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.True(t, cfg.Approvals.StaleCheck)
	assert.Equal(t, 50, cfg.Approvals.PageSize)
	assert.Equal(t, "opsdash:changes", cfg.Notifications.Channel)
	assert.Equal(t, 30*time.Second, cfg.Notifications.PingInterval)
	assert.Equal(t, 5*time.Minute, cfg.RecordCache.TTL)
	assert.Nil(t, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Redis.Enabled)
}

func TestFromViperClampsPageSizeAndParsesLists(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("APPROVAL_PAGE_SIZE", 5000)
	v.Set("ALLOWED_ORIGINS", " https://ops.site.local , ,http://localhost:3000")
	v.Set("RECORD_CACHE_TTL", "not-a-duration")

	cfg := fromViper(v)
	assert.Equal(t, 50, cfg.Approvals.PageSize)
	assert.Equal(t, []string{"https://ops.site.local", "http://localhost:3000"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.RecordCache.TTL)
}
