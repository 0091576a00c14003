package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage encrypted backups of the vault file",
	Long: `Backups are byte-for-byte copies of the encrypted vault file. They are
stored in the configured backup directory or S3 bucket and open with the
master password that was current when they were taken.`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Back up the vault now",
	Args:  cobra.NoArgs,
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Replace the vault with a backup",
	Long: `Restore replaces the vault file with the named backup. The current
file is kept next to it with a .pre_restore_<timestamp> suffix.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDelete,
}

var backupStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize backups",
	Args:  cobra.NoArgs,
	RunE:  runBackupStats,
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old manual backups",
	Args:  cobra.NoArgs,
	RunE:  runBackupPrune,
}

var pruneKeep int

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd,
		backupDeleteCmd, backupStatsCmd, backupPruneCmd)

	backupPruneCmd.Flags().IntVar(&pruneKeep, "keep", 10,
		"Number of manual backups to keep")
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	info, err := apiClient.Backups.Create(vaultCtx(), vaultPath())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(info)
		return nil
	}
	printSuccess("Created backup %s (%s)", info.Name, formatBytes(info.Size))
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	backups, err := apiClient.Backups.List(vaultCtx())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(backups)
		return nil
	}

	if len(backups) == 0 {
		printInfo("No backups in %s", apiClient.Backups.Target())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tCREATED\tSIZE")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Name, b.Kind, formatTime(b.CreatedAt), formatBytes(b.Size))
	}
	return w.Flush()
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	path := vaultPath()

	saved, err := apiClient.Backups.Restore(vaultCtx(), args[0], path)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":  true,
			"backup":   args[0],
			"vault":    path,
			"previous": saved,
		})
		return nil
	}

	printSuccess("Restored %s from %s", path, args[0])
	if saved != "" {
		printInfo("Previous vault kept at %s", saved)
	}
	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	if err := apiClient.Backups.Delete(vaultCtx(), args[0]); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "backup": args[0]})
		return nil
	}
	printSuccess("Deleted backup %s", args[0])
	return nil
}

func runBackupStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.Backups.Stats(vaultCtx())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(stats)
		return nil
	}

	fmt.Printf("Location:    %s\n", apiClient.Backups.Target())
	fmt.Printf("Backups:     %d\n", stats.Count)
	fmt.Printf("Total size:  %s\n", formatBytes(stats.TotalSize))
	if stats.Latest != nil {
		fmt.Printf("Latest:      %s (%s)\n", stats.Latest.Name, formatTime(stats.Latest.CreatedAt))
	}
	fmt.Printf("On save:     %t\n", stats.AutoEnabled)
	return nil
}

func runBackupPrune(cmd *cobra.Command, args []string) error {
	deleted, err := apiClient.Backups.Prune(vaultCtx(), pruneKeep)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "deleted": deleted})
		return nil
	}
	printSuccess("Deleted %d backups", len(deleted))
	return nil
}
