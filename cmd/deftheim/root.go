package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deftheim/internal/core"
	"deftheim/internal/domain"
)

// ErrCancelled is returned when the user declines a prompt.
var ErrCancelled = errors.New("cancelled")

var version = "0.4.0"

// Config keys, shared by flags and DEFTHEIM_* environment variables.
const (
	keyConfigDir   = "config-dir"
	keyDataDir     = "data-dir"
	keyVerbose     = "verbose"
	keyJSON        = "json"
	keyNoColor     = "no-color"
	keyListen      = "listen"
	keyCORSOrigin  = "cors-origin"
	keyNexusAPIKey = "nexus-api-key"
	keyLogFormat   = "log-format"
	keyLogFile     = "log-file"
)

// usageError marks errors caused by how the command was invoked.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "deftheim",
	Short: "Deftheim - mod manager for Valheim on Linux",
	Long: `deftheim manages BepInEx mods for Valheim: it keeps a local repository of
mod packages, deploys the enabled ones into the game, switches between mod
profiles, takes backups and applies updates from Thunderstore and Nexus Mods.

Run 'deftheim serve' to expose the command API to the desktop shell.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(keyConfigDir, "", "config directory (default: ~/.config/deftheim)")
	flags.String(keyDataDir, "", "data directory (default: ~/.local/share/deftheim)")
	flags.BoolP(keyVerbose, "v", false, "verbose output")
	flags.Bool(keyJSON, false, "output in JSON format")
	flags.Bool(keyNoColor, false, "disable colored output")
	flags.String(keyNexusAPIKey, "", "Nexus Mods API key (overrides the stored key)")
	flags.String(keyLogFormat, "text", "log format: text or json")
	flags.Bool(keyLogFile, false, "also write logs to a daily file under the data directory")

	for _, key := range []string{
		keyConfigDir, keyDataDir, keyVerbose, keyJSON, keyNoColor,
		keyNexusAPIKey, keyLogFormat, keyLogFile,
	} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("deftheim")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})
}

// exitCode maps an error to the process exit status: 1 for failures, 2 for
// usage errors, conflicts and cancellations.
func exitCode(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usage), errors.Is(err, ErrCancelled), domain.Kind(err) == domain.KindConflict:
		return 2
	default:
		return 1
	}
}

// Execute runs the root command and exits with exitCode.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if !errors.Is(err, ErrCancelled) {
		if viper.GetBool(keyJSON) {
			fmt.Printf(`{"error":%q,"code":%q}`+"\n", err.Error(), domain.Kind(err))
		} else {
			fmt.Fprintf(os.Stderr, "%s %v\n", styles().err.Render("Error:"), err)
		}
	}
	os.Exit(exitCode(err))
}

func configDir() string {
	if dir := viper.GetString(keyConfigDir); dir != "" {
		return dir
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "deftheim")
}

func dataDir() string {
	if dir := viper.GetString(keyDataDir); dir != "" {
		return dir
	}
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local/share"), "deftheim")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, fallback)
}

// newLogger builds the process logger. The returned closer releases the
// daily log file, if one was opened.
func newLogger(level logrus.Level, toFile bool) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	if viper.GetBool(keyVerbose) {
		log.SetLevel(logrus.DebugLevel)
	}

	switch viper.GetString(keyLogFormat) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: !colorEnabled()})
	default:
		return nil, nil, &usageError{fmt.Errorf("unknown log format %q", viper.GetString(keyLogFormat))}
	}

	if !toFile && !viper.GetBool(keyLogFile) {
		return log, nopCloser{}, nil
	}

	dir := filepath.Join(dataDir(), "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	name := filepath.Join(dir, "deftheim-"+time.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return log, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// app is a service together with the logger resources it owns.
type app struct {
	*core.Service
	log    *logrus.Logger
	closer io.Closer
}

func (a *app) Close() error {
	err := a.Service.Close()
	a.closer.Close()
	return err
}

// initService opens the service for a CLI command.
func initService() (*app, error) {
	return openService(logrus.WarnLevel, false)
}

func openService(level logrus.Level, logToFile bool) (*app, error) {
	log, closer, err := newLogger(level, logToFile)
	if err != nil {
		return nil, err
	}

	svc, err := core.NewService(core.ServiceConfig{
		ConfigDir:   configDir(),
		DataDir:     dataDir(),
		NexusAPIKey: viper.GetString(keyNexusAPIKey),
		Logger:      log,
	})
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("initializing service: %w", err)
	}
	return &app{Service: svc, log: log, closer: closer}, nil
}
