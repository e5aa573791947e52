// Package commands provides the CLI commands for custodian.
package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/custodian/internal/config"
	"github.com/opencode-ai/custodian/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	serverURL string
	apiKey    string
	workDir   string
	logLevel  string
	printLogs bool
	noColor   bool
	jsonOut   bool
)

// cfg is loaded once per invocation by the root pre-run hook.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "custodian",
	Short: "custodian - follow and drive opencode agent sessions",
	Long: `custodian connects to a running opencode server, keeps a local view of
the current session in sync with the server's event stream and lets you
chat with the agent, answer its permission requests and questions, and
switch between sessions.

Run 'custodian chat' for an interactive session, or 'custodian watch' to
follow a session someone else is driving.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "url", "", "opencode server URL (default from config, then "+config.DefaultServerURL+")")
	flags.StringVar(&apiKey, "api-key", "", "Bearer token for the server")
	flags.StringVarP(&workDir, "directory", "d", "", "Project directory the server should scope to (default: cwd)")
	flags.StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	flags.BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&jsonOut, "json", false, "Print events as JSON lines")

	rootCmd.SetVersionTemplate(fmt.Sprintf("custodian %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	defer logging.Close()
	return rootCmd.Execute()
}

// setup loads .env and the configuration, applies flag overrides and
// initializes logging.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	loaded, err := config.Load(dir)
	if err != nil {
		return err
	}
	if serverURL != "" {
		loaded.Server.URL = serverURL
	}
	if apiKey != "" {
		loaded.Server.APIKey = apiKey
	}
	if workDir != "" {
		loaded.Server.Directory = workDir
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	cfg = loaded

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	if printLogs {
		logCfg.Output = cmd.ErrOrStderr()
		logCfg.Pretty = true
	} else {
		logCfg.Output = io.Discard
		logCfg.LogToFile = true
		logCfg.LogDir = config.GetPaths().LogPath()
	}
	logging.Init(logCfg)
	logging.Debug().
		Str("url", cfg.Server.URL).
		Str("directory", cfg.Server.Directory).
		Strs("sources", cfg.Sources).
		Str("logFile", logging.FilePath()).
		Msg("configuration loaded")
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
