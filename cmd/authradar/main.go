package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xoelrdgz/authradar/internal/app"
)

var (
	cfgFile    string
	logPaths   []string
	liveSource string
	liveFile   string
	noLive     bool
	noTUI      bool
	jsonOut    bool

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "authradar",
	Short: "SSH auth log incident aggregation and live monitoring",
	Long: `AuthRadar reads SSH authentication logs, classifies login activity,
aggregates it into per-IP incidents enriched with geolocation, and
streams live events to subscribers.

Sources:
  - Static auth log (/var/log/auth.log and rotations) for incident queries
  - journalctl, tail -F, an in-process file follower or a demo generator
    for the live stream

Interfaces:
  - HTTP API and WebSocket feed (serve)
  - Terminal dashboard (watch)
  - One-shot CLI reports (incidents, stats, cache)`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("AuthRadar %s\n", Version)
		fmt.Printf("Commit:  %s\n", Commit)
		fmt.Printf("Built:   %s\n", BuildTime)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	flags.StringSliceVarP(&logPaths, "log", "l", nil, "static auth log paths, tried in order")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("cache-backend", "", "geolocation cache backend: json or bolt")
	flags.String("cache-path", "", "geolocation cache location")

	_ = viper.BindPFlag("log.paths", flags.Lookup("log"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("cache.backend", flags.Lookup("cache-backend"))
	_ = viper.BindPFlag("cache.path", flags.Lookup("cache-path"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

// addLiveFlags registers the live source flags shared by serve and watch.
func addLiveFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&liveSource, "source", "", "live source: journal, file, follow or demo")
	cmd.Flags().StringVar(&liveFile, "file", "", "log file for the file and follow sources")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/authradar")
	}

	app.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Msg("Error reading config file")
		}
	}

	viper.SetEnvPrefix("AUTHRADAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadSettings resolves flags, file and environment into validated Settings.
func loadSettings() (app.Settings, error) {
	settings := app.CurrentSettings(viper.GetViper())
	if liveSource != "" {
		settings.LiveSource = liveSource
	}
	if liveFile != "" {
		settings.LiveFile = liveFile
	}
	if err := app.ValidateSettings(settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func setupLogging(level string, console bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
