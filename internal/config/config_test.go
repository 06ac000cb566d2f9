package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg := Load(v)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DispatchInline, cfg.DispatchMode)
	assert.Equal(t, "calllater.run", cfg.RunTopic)
	assert.Equal(t, "@every 30s", cfg.CheckSchedule)
	assert.Equal(t, 1000, cfg.EventLogSize)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 1.0, cfg.OTelSample)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromYAML(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
dispatch_mode: KAFKA
kafka_brokers: "k1:9092, k2:9092,"
time_zone: Europe/Amsterdam
webhook_timeout: 3s
event_log_size: 50
`)))

	cfg := Load(v)
	assert.Equal(t, DispatchKafka, cfg.DispatchMode, "mode is case-insensitive")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, 3*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 50, cfg.EventLogSize)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Amsterdam", loc.String())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := Config{DispatchMode: DispatchKafka, KafkaBrokers: "k:9092", RunTopic: "run", TimeZone: "UTC"}
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"unknown mode":      func(c *Config) { c.DispatchMode = "carrier-pigeon" },
		"kafka no brokers":  func(c *Config) { c.KafkaBrokers = " , " },
		"kafka no topic":    func(c *Config) { c.RunTopic = "" },
		"unknown time zone": func(c *Config) { c.TimeZone = "Mars/Olympus_Mons" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLocation_EmptyIsUTC(t *testing.T) {
	loc, err := Config{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}
