package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/services/generator"
	"github.com/TheMichaelB/keyvault/internal/services/totp"
)

const masked = "********"

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries",
	Example: `  keyvault list
  keyvault list --category Work
  keyvault list --search github`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var getCmd = &cobra.Command{
	Use:   "get <title>",
	Short: "Show one entry",
	Long:  `Get prints an entry. The password is masked unless --show is given.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add an entry",
	Example: `  keyvault add GitHub --username alice --url https://github.com
  keyvault add Bank --category Finance --generate-password`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var updateCmd = &cobra.Command{
	Use:   "update <title>",
	Short: "Change fields of an entry",
	Long:  `Update changes only the fields given as flags.`,
	Example: `  keyvault update GitHub --url https://github.com/login
  keyvault update GitHub --title "GitHub (work)"
  keyvault update Bank --new-password`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <title>",
	Short: "Delete an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories with entry counts",
	Args:  cobra.NoArgs,
	RunE:  runCategories,
}

var (
	listCategory string
	listSearch   string
	getShow      bool

	entryTitle       string
	entryUsername    string
	entryURL         string
	entryNotes       string
	entryCategory    string
	entryTOTPSecret  string
	entryGenerate    bool
	entryGenerateOTP bool
	entryNewPassword bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(categoriesCmd)

	listCmd.Flags().StringVarP(&listCategory, "category", "c", "",
		"Only entries in this category")
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "",
		"Only entries matching this text")

	getCmd.Flags().BoolVar(&getShow, "show", false,
		"Print the password in clear text")

	for _, c := range []*cobra.Command{addCmd, updateCmd} {
		c.Flags().StringVarP(&entryUsername, "username", "u", "", "Username")
		c.Flags().StringVar(&entryURL, "url", "", "Website URL")
		c.Flags().StringVar(&entryNotes, "notes", "", "Free-form notes")
		c.Flags().StringVarP(&entryCategory, "category", "c", "", "Category")
		c.Flags().StringVar(&entryTOTPSecret, "totp-secret", "", "Base32 TOTP secret")
		c.Flags().BoolVarP(&entryGenerate, "generate-password", "g", false,
			"Generate a random password")
		c.Flags().BoolVar(&entryGenerateOTP, "generate-totp", false,
			"Issue a new TOTP secret")
	}
	updateCmd.Flags().StringVar(&entryTitle, "title", "", "New title")
	updateCmd.Flags().BoolVar(&entryNewPassword, "new-password", false,
		"Prompt for a new password")
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := unlockVault()
	if err != nil {
		return err
	}
	defer s.Close()

	var entries []models.Entry
	switch {
	case listSearch != "":
		entries, err = s.Search(listSearch)
	case listCategory != "":
		entries, err = s.EntriesByCategory(listCategory)
	default:
		entries, err = s.ListEntries()
	}
	if err != nil {
		return err
	}

	if listSearch != "" && listCategory != "" && listCategory != models.AllCategories {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(e.CategoryOrDefault(), listCategory) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if jsonOutput {
		out := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			out = append(out, entrySummary(e))
		}
		printJSON(out)
		return nil
	}

	if len(entries) == 0 {
		printInfo("No entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tUSERNAME\tCATEGORY\tURL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Title, e.Username, e.CategoryOrDefault(), e.URL)
	}
	return w.Flush()
}

func entrySummary(e models.Entry) map[string]interface{} {
	return map[string]interface{}{
		"title":    e.Title,
		"username": e.Username,
		"url":      e.URL,
		"category": e.CategoryOrDefault(),
		"totp":     e.HasTOTP(),
		"created":  e.Created,
		"modified": e.Modified,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	s, err := unlockVault()
	if err != nil {
		return err
	}
	defer s.Close()

	e, ok, err := s.FindEntry(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return &models.EntryError{Op: "get", Title: args[0], Err: models.ErrEntryNotFound}
	}

	password := masked
	if getShow {
		password = e.Password
	}

	if jsonOutput {
		out := entrySummary(e)
		out["notes"] = e.Notes
		if getShow {
			out["password"] = e.Password
		}
		printJSON(out)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Title:\t%s\n", e.Title)
	fmt.Fprintf(w, "Username:\t%s\n", e.Username)
	fmt.Fprintf(w, "Password:\t%s\n", password)
	fmt.Fprintf(w, "URL:\t%s\n", e.URL)
	fmt.Fprintf(w, "Category:\t%s\n", e.CategoryOrDefault())
	fmt.Fprintf(w, "TOTP:\t%t\n", e.HasTOTP())
	if e.Notes != "" {
		fmt.Fprintf(w, "Notes:\t%s\n", e.Notes)
	}
	fmt.Fprintf(w, "Modified:\t%s\n", formatTime(e.Modified))
	return w.Flush()
}

// entryPassword returns a generated password or prompts for one.
func entryPassword(prompt string) (string, bool, error) {
	if entryGenerate {
		pw, err := generator.Generate(generator.DefaultOptions())
		return pw, true, err
	}
	pw, err := promptPassword(prompt)
	return pw, false, err
}

// entrySecret returns the TOTP secret from the flags, issuing one if asked.
// An issued secret is confirmed against the authenticator when stdin is a
// terminal.
func entrySecret(title string) (string, error) {
	if !entryGenerateOTP {
		return entryTOTPSecret, nil
	}

	secret, err := apiClient.TOTP.NewSecret("KeyVault", title)
	if err != nil {
		return "", err
	}
	if jsonOutput || !term.IsTerminal(int(syscall.Stdin)) {
		return secret, nil
	}

	printInfo("Add this secret to your authenticator app: %s", secret)
	if err := confirmTOTP(apiClient.TOTP, secret, bufio.NewReader(os.Stdin), os.Stderr); err != nil {
		return "", err
	}
	return secret, nil
}

const totpConfirmAttempts = 3

// confirmTOTP reads codes from in until one matches secret. An empty
// answer skips the check.
func confirmTOTP(svc totp.Service, secret string, in *bufio.Reader, out io.Writer) error {
	for i := 0; i < totpConfirmAttempts; i++ {
		fmt.Fprint(out, "Code from the app (empty to skip): ")
		line, err := in.ReadString('\n')
		code := strings.TrimSpace(line)
		if code == "" {
			if err != nil && err != io.EOF {
				return fmt.Errorf("read code: %w", err)
			}
			return nil
		}
		if svc.ValidateCode(secret, code) {
			return nil
		}
		fmt.Fprintln(out, "Code does not match")
		if err != nil {
			break
		}
	}
	return fmt.Errorf("%w: authenticator code did not match the new secret", models.ErrInvalidEntry)
}

func runAdd(cmd *cobra.Command, args []string) error {
	title := args[0]

	s, err := unlockVault()
	if err != nil {
		return err
	}
	defer s.Close()

	password, generated, err := entryPassword("Entry password (empty for none): ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	secret, err := entrySecret(title)
	if err != nil {
		return err
	}

	entry := models.Entry{
		Title:      title,
		Username:   entryUsername,
		Password:   password,
		URL:        entryURL,
		Notes:      entryNotes,
		Category:   entryCategory,
		TOTPSecret: secret,
	}
	if err := s.AddEntry(entry); err != nil {
		return err
	}

	if jsonOutput {
		out := map[string]interface{}{"success": true, "title": title}
		if generated {
			out["password"] = password
		}
		if entryGenerateOTP {
			out["totp_secret"] = secret
		}
		printJSON(out)
		return nil
	}

	printSuccess("Added %q", title)
	if generated {
		printInfo("Generated password: %s", password)
	}
	if entryGenerateOTP {
		printInfo("TOTP secret: %s", secret)
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	title := args[0]
	flags := cmd.Flags()

	var update models.EntryUpdate
	if flags.Changed("title") {
		update.Title = models.String(entryTitle)
	}
	if flags.Changed("username") {
		update.Username = models.String(entryUsername)
	}
	if flags.Changed("url") {
		update.URL = models.String(entryURL)
	}
	if flags.Changed("notes") {
		update.Notes = models.String(entryNotes)
	}
	if flags.Changed("category") {
		update.Category = models.String(entryCategory)
	}
	if flags.Changed("totp-secret") || entryGenerateOTP {
		secret, err := entrySecret(title)
		if err != nil {
			return err
		}
		update.TOTPSecret = models.String(secret)
	}

	s, err := unlockVault()
	if err != nil {
		return err
	}
	defer s.Close()

	var generated string
	if entryGenerate || entryNewPassword {
		pw, gen, err := entryPassword("New entry password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		update.Password = models.String(pw)
		if gen {
			generated = pw
		}
	}

	if update.IsEmpty() {
		return fmt.Errorf("nothing to update; pass at least one field flag")
	}

	if err := s.UpdateEntry(title, update); err != nil {
		return err
	}

	if jsonOutput {
		out := map[string]interface{}{"success": true, "title": title}
		if generated != "" {
			out["password"] = generated
		}
		printJSON(out)
		return nil
	}

	printSuccess("Updated %q", title)
	if generated != "" {
		printInfo("Generated password: %s", generated)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	s, err := unlockVault()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteEntry(args[0]); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "title": args[0]})
		return nil
	}
	printSuccess("Deleted %q", args[0])
	return nil
}

func runCategories(cmd *cobra.Command, args []string) error {
	s, err := unlockVault()
	if err != nil {
		return err
	}
	defer s.Close()

	cats, err := s.Categories()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(cats)
		return nil
	}

	total := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, c := range cats {
		fmt.Fprintf(w, "%s\t%d\n", c.Name, c.Count)
		total += c.Count
	}
	fmt.Fprintf(w, "%s\t%d\n", models.AllCategories, total)
	return w.Flush()
}
