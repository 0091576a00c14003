package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/keyvault/internal/client"
	"github.com/TheMichaelB/keyvault/internal/config"
	"github.com/TheMichaelB/keyvault/internal/creds"
	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/services/session"
)

var (
	configFile string
	vaultFlag  string
	logLevel   string
	jsonOutput bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client

	// cmdCtx carries the logger into services that take a context
	cmdCtx = context.Background()
)

var rootCmd = &cobra.Command{
	Use:   "keyvault",
	Short: "Encrypted local password vault",
	Long: `KeyVault keeps passwords in a single encrypted file.

The file is protected with AES-256-GCM under a key derived from your
master password with PBKDF2-HMAC-SHA256. Nothing leaves your machine
unless you configure S3 backups, and backups are stored encrypted.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Config file (default: ./keyvault.*, ~/.config/keyvault/, ~/.keyvault/)")
	rootCmd.PersistentFlags().StringVarP(&vaultFlag, "vault", "v", "",
		"Vault file (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output JSON")
}

func setup(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configFile)
	if logLevel != "" {
		loader.Set("log.level", logLevel)
	}

	var err error
	cfg, err = loader.Load()
	if err != nil {
		return err
	}

	if jsonOutput || !cfg.Log.Color {
		color.NoColor = true
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)
	cmdCtx = events.WithLogger(context.Background(), logger)

	if used := loader.ConfigFileUsed(); used != "" {
		logger.WithField("config", used).Debug("Loaded config file")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	apiClient, err = client.New(cfg, logger)
	return err
}

// run executes the command line and releases the client whether or not
// the command succeeded.
func run(args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	closeClient()
	return err
}

func closeClient() {
	if apiClient == nil {
		return
	}
	if err := apiClient.Close(); err != nil && logger != nil {
		logger.WithError(err).Warn("Close client")
	}
	apiClient = nil
}

// vaultCtx scopes cmdCtx to the selected vault for logging.
func vaultCtx() context.Context {
	return events.WithVaultPath(cmdCtx, vaultPath())
}

// vaultPath is the vault selected by --vault or the config.
func vaultPath() string {
	return apiClient.VaultPath(vaultFlag)
}

// masterPassword resolves the master password for path without prompting
// when the environment or credentials file has it.
func masterPassword(path, prompt string) (string, error) {
	pw, err := creds.Lookup(path, cfg.Security.CredentialsFile)
	if err != nil {
		logger.WithError(err).Warn("Ignoring credentials file")
	}
	if pw != "" {
		return pw, nil
	}

	pw, err = promptPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}

// unlockVault opens and unlocks the selected vault.
func unlockVault() (*session.Session, error) {
	path := vaultPath()

	s, err := apiClient.OpenVault(path)
	if err != nil {
		return nil, err
	}

	pw, err := masterPassword(path, "Master password: ")
	if err != nil {
		return nil, err
	}
	if err := s.Unlock(pw); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(password), nil
}

// promptNewPassword asks twice and requires both answers to match.
func promptNewPassword(prompt string) (string, error) {
	first, err := promptPassword(prompt)
	if err != nil {
		return "", err
	}
	second, err := promptPassword("Repeat: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

// Output helpers

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("encode output: %v", err)
		return
	}
	fmt.Println(string(data))
}

// reportError prints err once, in the output mode the user asked for.
func reportError(err error) {
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": false,
			"code":    models.CodeOf(err),
			"error":   models.UserMessage(err),
		})
		return
	}

	printError("Error: %s", models.UserMessage(err))
	if logger != nil {
		logger.WithError(err).Debug("Command failed")
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
