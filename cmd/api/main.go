package main

import (
	"fmt"
	"os"

	"github.com/animagenius/animagenius-api/pkg/config"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "animagenius",
	Short: "AnimaGenius API server",
	Long: `AnimaGenius turns uploaded documents into AI-generated videos.

Run without arguments to start the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetOutput(gin.DefaultWriter)
		log.SetFormatter(&log.JSONFormatter{})

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
			level = log.InfoLevel
		}
		log.SetLevel(level)
		if level != log.DebugLevel && level != log.TraceLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, adminCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("animagenius: %v", err)
		os.Exit(1)
	}
}
