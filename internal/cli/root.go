// Package cli implements the calllater command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-call-later/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "calllater",
	Short:        "Run functions later: once, repeatedly, with retries",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/calllater/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file path (default: ./calllater.yaml)")
	pf.String("log-level", "info", "log level: debug | info | warn | error")
	pf.String("postgres-dsn", viper.GetString("postgres_dsn"), "PostgreSQL DSN")
	pf.String("redis-addr", viper.GetString("redis_addr"), "Redis address (host:port); empty disables the event log and outcome store")
	pf.String("kafka-brokers", viper.GetString("kafka_brokers"), "comma-separated Kafka broker addresses")
	pf.String("dispatch-mode", viper.GetString("dispatch_mode"), "how due tasks are handed off: inline | kafka")
	pf.String("run-topic", viper.GetString("run_topic"), "Kafka topic carrying run requests")
	pf.String("time-zone", viper.GetString("time_zone"), "IANA zone used to compute the next run of repeating tasks")
	pf.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("log_level", pf, "log-level")
	bindFlag("postgres_dsn", pf, "postgres-dsn")
	bindFlag("redis_addr", pf, "redis-addr")
	bindFlag("kafka_brokers", pf, "kafka-brokers")
	bindFlag("dispatch_mode", pf, "dispatch-mode")
	bindFlag("run_topic", pf, "run-topic")
	bindFlag("time_zone", pf, "time-zone")
	bindFlag("otel_endpoint", pf, "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(newInitCmd(defaultYAML))
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName("calllater")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.go-call-later")
		viper.AddConfigPath("/etc/go-call-later")
	}

	viper.SetEnvPrefix("calllater")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

func buildLogger(level, service string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", service))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
