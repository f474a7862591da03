package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"agency/internal/config"
	"agency/internal/security"
)

const (
	defaultPrompt = "what time is it? is flight AI101 on time?"
	defaultNotes  = "Hey, just finished the sync with Rahul and Sneha. We decided to move the deployment to next Friday, Dec 26. Sneha is going to fix the login bug, and I'll update the Dockerfile."
)

var (
	configPath  string
	verbose     bool
	keyProvider string
)

var rootCmd = &cobra.Command{
	Use:           "agency",
	Short:         "Answer questions with a model that can call local tools",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !verbose {
			log.SetOutput(io.Discard)
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [prompt...]",
	Short: "Send one prompt, running tools the model asks for",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		if prompt == "" {
			prompt = defaultPrompt
		}
		return withApp(cmd, func(a *App) error {
			return a.Ask(cmd.Context(), prompt)
		})
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [text...]",
	Short: "Extract participants, date and action items from meeting notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if text == "" {
			text = defaultNotes
		}
		return withApp(cmd, func(a *App) error {
			return a.Extract(cmd.Context(), text)
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Read prompts from stdin, one independent request per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *App) error {
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(a.out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(a.out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				if err := a.Ask(cmd.Context(), line); err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					errorColor.Fprintf(a.out, "error: %v\n", err)
				}
			}
		})
	},
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage API keys in the OS keychain",
}

var keySetCmd = &cobra.Command{
	Use:   "set <value>",
	Short: "Store the API key for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := config.SecretName(keyProvider)
		if err := security.NewKeyStore().Set(name, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%s)\n", name, security.MaskKey(args[0]))
		return nil
	},
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the API key for a provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := config.SecretName(keyProvider)
		if err := security.NewKeyStore().Delete(name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests and state changes to stderr")
	keyCmd.PersistentFlags().StringVarP(&keyProvider, "provider", "p", "openai", "provider the key belongs to")

	keyCmd.AddCommand(keySetCmd, keyDeleteCmd)
	rootCmd.AddCommand(askCmd, extractCmd, chatCmd, keyCmd)
}

func withApp(cmd *cobra.Command, fn func(*App) error) error {
	a, err := NewApp(configPath, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		errorColor.Fprintf(os.Stderr, "error: %v\n", err)
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, "hint: set the key in the environment, a .env file, or run `agency key set <value>`")
		}
		os.Exit(1)
	}
}
