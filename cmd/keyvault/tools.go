package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/keyvault/internal/services/generator"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random password or passphrase",
	Example: `  keyvault generate
  keyvault generate --length 24 --no-symbols
  keyvault generate --passphrase 6`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

var strengthCmd = &cobra.Command{
	Use:   "strength [password]",
	Short: "Rate a password",
	Long:  `Strength rates a password from 0 (very weak) to 4 (very strong). Without an argument it prompts so the password stays out of shell history.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStrength,
}

var (
	genLength     int
	genNoUpper    bool
	genNoLower    bool
	genNoDigits   bool
	genNoSymbols  bool
	genAmbiguous  bool
	genPassphrase int
)

func init() {
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(strengthCmd)

	generateCmd.Flags().IntVarP(&genLength, "length", "l", generator.DefaultLength,
		"Password length")
	generateCmd.Flags().BoolVar(&genNoUpper, "no-upper", false, "Exclude upper-case letters")
	generateCmd.Flags().BoolVar(&genNoLower, "no-lower", false, "Exclude lower-case letters")
	generateCmd.Flags().BoolVar(&genNoDigits, "no-digits", false, "Exclude digits")
	generateCmd.Flags().BoolVar(&genNoSymbols, "no-symbols", false, "Exclude symbols")
	generateCmd.Flags().BoolVar(&genAmbiguous, "allow-ambiguous", false,
		"Allow look-alike characters such as l, I, O and 0")
	generateCmd.Flags().IntVar(&genPassphrase, "passphrase", 0,
		"Generate a diceware passphrase with this many words instead")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	var (
		password string
		err      error
	)

	if genPassphrase > 0 {
		password, err = generator.Passphrase(genPassphrase)
	} else {
		password, err = generator.Generate(generator.Options{
			Length:           genLength,
			Upper:            !genNoUpper,
			Lower:            !genNoLower,
			Digits:           !genNoDigits,
			Symbols:          !genNoSymbols,
			ExcludeAmbiguous: !genAmbiguous,
		})
	}
	if err != nil {
		return err
	}

	result := generator.Strength(password)

	if jsonOutput {
		printJSON(map[string]interface{}{
			"password": password,
			"strength": result,
		})
		return nil
	}

	fmt.Println(password)
	printInfo("Strength: %s", result.Label)
	return nil
}

func runStrength(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		var err error
		password, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	result := generator.Strength(password)

	if jsonOutput {
		printJSON(result)
		return nil
	}

	bar := strings.Repeat("█", result.Score+1) + strings.Repeat("░", len(generator.Labels)-result.Score-1)
	strengthColor(result.Score).Printf("%s %s\n", bar, result.Label)
	fmt.Printf("Entropy: %.1f bits, crack time: %s\n", result.Entropy, result.CrackTime)
	return nil
}

func strengthColor(score int) *color.Color {
	switch {
	case score >= 4:
		return color.New(color.FgGreen, color.Bold)
	case score == 3:
		return color.New(color.FgGreen)
	case score == 2:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
