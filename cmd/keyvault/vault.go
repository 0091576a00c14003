package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/keyvault/internal/services/generator"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new vault",
	Long: `Init creates an empty vault protected by a new master password.

The master password cannot be recovered. Store it somewhere safe.`,
	Example: `  keyvault init
  keyvault init --vault ~/vaults/work.enc`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master password",
	Long: `Passwd re-encrypts the vault under a new master password and a fresh
salt. A backup of the current file is taken first, and the old file is
only replaced once the new one has been verified.`,
	Args: cobra.NoArgs,
	RunE: runPasswd,
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently used vaults",
	Example: `  keyvault recent -n 5
  keyvault recent --forget ~/old.enc
  keyvault recent --migrate-to sqlite`,
	Args: cobra.NoArgs,
	RunE: runRecent,
}

var (
	recentLimit     int
	recentForget    string
	recentMigrateTo string
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(recentCmd)

	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 0,
		"Maximum number of vaults (default from config)")
	recentCmd.Flags().StringVar(&recentForget, "forget", "",
		"Remove a vault path from the list")
	recentCmd.Flags().StringVar(&recentMigrateTo, "migrate-to", "",
		"Copy the list into another state backend: json, sqlite, dynamodb")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := vaultPath()

	pw, err := promptNewPassword("New master password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	s, err := apiClient.CreateVault(path, pw)
	if err != nil {
		return err
	}
	defer s.Close()

	strength := generator.Strength(pw)

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":  true,
			"vault":    path,
			"strength": strength,
		})
		return nil
	}

	printSuccess("Created vault %s", path)
	if strength.Score < 3 {
		printWarning("Master password strength: %s (crack time %s)", strength.Label, strength.CrackTime)
	}
	return nil
}

func runPasswd(cmd *cobra.Command, args []string) error {
	path := vaultPath()

	s, err := apiClient.OpenVault(path)
	if err != nil {
		return err
	}
	defer s.Close()

	current, err := promptPassword("Current master password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if err := s.Unlock(current); err != nil {
		return err
	}

	next, err := promptNewPassword("New master password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	if err := s.ChangeMasterPassword(current, next); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"vault":   path,
		})
		return nil
	}

	printSuccess("Master password changed")
	return nil
}

func runRecent(cmd *cobra.Command, args []string) error {
	if recentMigrateTo != "" {
		n, err := apiClient.MigrateRecent(recentMigrateTo)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{"success": true, "backend": recentMigrateTo, "records": n})
			return nil
		}
		printSuccess("Copied recent vaults to %s (%d records)", recentMigrateTo, n)
		printInfo("Set state.backend to %s to use it", recentMigrateTo)
		return nil
	}

	if recentForget != "" {
		if err := apiClient.Recent.Reset(recentForget); err != nil {
			return err
		}
		if !jsonOutput {
			printSuccess("Forgot %s", recentForget)
		}
	}

	records, err := apiClient.RecentVaults(recentLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(records)
		return nil
	}

	if len(records) == 0 {
		printInfo("No recent vaults")
		return nil
	}

	for _, r := range records {
		line := fmt.Sprintf("%s  (last used %s)", r.Path, formatTime(r.LastActive()))
		if r.FailedUnlocks > 0 {
			line += fmt.Sprintf(", %d failed unlocks", r.FailedUnlocks)
		}
		fmt.Println(line)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
