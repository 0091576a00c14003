package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/services/session"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Keep the vault unlocked in an interactive session",
	Long: `Shell unlocks the vault once and reads commands from standard input.
The session locks itself after the configured inactivity timeout and asks
for the master password again on the next command.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

const shellHelp = `Commands:
  list [category]    List entries
  search <query>     Search titles, usernames, URLs and notes
  get <title>        Show an entry
  show <title>       Show an entry including its password
  categories         Count entries per category
  lock               Lock the vault
  unlock             Unlock the vault
  help               Show this help
  exit               Leave the shell`

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	s, err := unlockVault()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if locker := apiClient.NewAutoLocker(s); locker != nil {
		locker.OnWarn = func(remaining time.Duration) {
			fmt.Fprintln(os.Stderr)
			printWarning("Vault locks in %s", remaining.Round(time.Second))
		}
		locker.OnLock = func() {
			fmt.Fprintln(os.Stderr)
			printInfo("Vault locked after inactivity")
		}
		go locker.Run(ctx, time.Second)
	}

	lr := newLineReader(ctx, os.Stdin)
	defer lr.Close()

	printInfo("Vault %s unlocked. Type 'help' for commands.", s.Path())
	for {
		fmt.Print("keyvault> ")
		line, ok := lr.ReadLine(ctx)
		if !ok {
			fmt.Println()
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name, arg := strings.ToLower(fields[0]), strings.Join(fields[1:], " ")

		if name == "exit" || name == "quit" {
			return nil
		}
		if err := shellExec(s, name, arg); err != nil {
			printError("%s", models.UserMessage(err))
		}
	}
}

func shellExec(s *session.Session, name, arg string) error {
	s.Touch()

	switch name {
	case "help", "?":
		fmt.Println(shellHelp)
		return nil
	case "lock":
		s.Lock()
		printInfo("Vault locked")
		return nil
	case "unlock":
		return shellUnlock(s)
	}

	if s.State() == session.Locked {
		if err := shellUnlock(s); err != nil {
			return err
		}
	}

	switch name {
	case "list", "ls":
		var entries []models.Entry
		var err error
		if arg == "" {
			entries, err = s.ListEntries()
		} else {
			entries, err = s.EntriesByCategory(arg)
		}
		if err != nil {
			return err
		}
		return printEntryTable(entries)

	case "search", "find":
		if arg == "" {
			return errors.New("usage: search <query>")
		}
		entries, err := s.Search(arg)
		if err != nil {
			return err
		}
		return printEntryTable(entries)

	case "get", "show":
		if arg == "" {
			return fmt.Errorf("usage: %s <title>", name)
		}
		e, ok, err := s.FindEntry(arg)
		if err != nil {
			return err
		}
		if !ok {
			return &models.EntryError{Op: name, Title: arg, Err: models.ErrEntryNotFound}
		}
		password := masked
		if name == "show" {
			password = e.Password
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Title:\t%s\n", e.Title)
		fmt.Fprintf(w, "Username:\t%s\n", e.Username)
		fmt.Fprintf(w, "Password:\t%s\n", password)
		fmt.Fprintf(w, "URL:\t%s\n", e.URL)
		fmt.Fprintf(w, "Category:\t%s\n", e.CategoryOrDefault())
		if e.Notes != "" {
			fmt.Fprintf(w, "Notes:\t%s\n", e.Notes)
		}
		return w.Flush()

	case "categories", "cats":
		cats, err := s.Categories()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, c := range cats {
			fmt.Fprintf(w, "%s\t%d\n", c.Name, c.Count)
		}
		return w.Flush()
	}

	return fmt.Errorf("unknown command %q, type 'help'", name)
}

// lineReader reads one line per request, so password prompts own the
// terminal while a command runs.
type lineReader struct {
	next  chan struct{}
	lines chan string
	done  chan struct{}
}

func newLineReader(ctx context.Context, r io.Reader) *lineReader {
	lr := &lineReader{
		next:  make(chan struct{}),
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go lr.run(ctx, r)
	return lr
}

func (lr *lineReader) run(ctx context.Context, r io.Reader) {
	defer close(lr.done)
	defer close(lr.lines)

	scanner := bufio.NewScanner(r)
	for range lr.next {
		if !scanner.Scan() {
			return
		}
		select {
		case lr.lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// ReadLine returns the next line, or false at end of input or once ctx
// is done.
func (lr *lineReader) ReadLine(ctx context.Context) (string, bool) {
	select {
	case lr.next <- struct{}{}:
	case <-lr.done:
		return "", false
	case <-ctx.Done():
		return "", false
	}

	select {
	case line, ok := <-lr.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// Close stops the reader once its current read returns.
func (lr *lineReader) Close() {
	close(lr.next)
}

func shellUnlock(s *session.Session) error {
	pw, err := masterPassword(s.Path(), "Master password: ")
	if err != nil {
		return err
	}
	if err := s.Unlock(pw); err != nil {
		return err
	}
	printSuccess("Vault unlocked")
	return nil
}

func printEntryTable(entries []models.Entry) error {
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
