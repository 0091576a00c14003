package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Score password strength, 2FA coverage, reuse and backups",
	Long: `Health rates the vault out of 100: up to 40 points for strong
passwords, 30 for entries with TOTP, 20 when no password is reused and
10 for a backup taken today (5 within a week).`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	s, err := unlockVault()
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := apiClient.Health(vaultCtx(), s)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(report)
		return nil
	}

	healthColor(report.Score).Printf("Health score: %d/100\n", report.Score)
	fmt.Printf("Strong passwords:  %d/%d\n", report.Strong, report.Entries)
	fmt.Printf("TOTP enabled:      %d/%d\n", report.TOTPEnabled, report.Entries)
	fmt.Printf("Reused passwords:  %d\n", report.DuplicatePasswords)
	if report.LastBackup != nil {
		fmt.Printf("Last backup:       %s (%d days ago)\n", formatTime(*report.LastBackup), report.DaysSinceBackup)
	} else {
		fmt.Printf("Last backup:       never\n")
	}

	if len(report.Weak) > 0 {
		printWarning("Weak: %s", strings.Join(report.Weak, ", "))
	}
	for _, titles := range report.Reused {
		printWarning("Same password: %s", strings.Join(titles, ", "))
	}
	return nil
}

func healthColor(score int) *color.Color {
	switch {
	case score >= 80:
		return color.New(color.FgGreen, color.Bold)
	case score >= 50:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
