package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tokenforge/pkg/config"
	"tokenforge/pkg/logx"
)

// passwordEnv allows passwordless runs: when set, its value unlocks the
// secrets file without a prompt.
const passwordEnv = "TOKENFORGE_PASSWORD"

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted provider credentials",
	Long: `Stores provider API keys in .tokenforge/secrets.json.enc, encrypted with
a project password. Keys are read back during runs; environment variables
of the same name work as a fallback when no secrets file exists.`,
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store one credential in the encrypted secrets file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := unlockSecrets(cmd)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		defer store.Lock()

		key := strings.TrimSpace(args[0])
		value, err := promptHidden(fmt.Sprintf("Enter value for %s: ", key))
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		if value == "" {
			fmt.Println("❌ Value cannot be empty.")
			os.Exit(1)
		}

		if err := store.Set(key, value); err != nil {
			fmt.Printf("❌ Failed to save secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ %s saved to .tokenforge/secrets.json.enc (file permissions: 0600)\n", key)
	},
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential names",
	Run: func(cmd *cobra.Command, _ []string) {
		store, err := unlockSecrets(cmd)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		defer store.Lock()

		keys := store.Keys()
		if len(keys) == 0 {
			fmt.Println("No secrets stored.")
			return
		}
		for _, key := range keys {
			fmt.Println(key)
		}
	},
}

var secretsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print one credential in clear text",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := unlockSecrets(cmd)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		defer store.Lock()

		key := strings.TrimSpace(args[0])
		value, err := store.Get(key)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		fmt.Println(value)
	},
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove one credential from the encrypted secrets file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := unlockSecrets(cmd)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		defer store.Lock()

		key := strings.TrimSpace(args[0])
		if err := store.Delete(key); err != nil {
			fmt.Printf("❌ Failed to delete secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ %s removed\n", key)
	},
}

func init() {
	rootCmd.AddCommand(secretsCmd)
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsShowCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
}

// unlockSecrets opens the project secret store for editing. The password
// comes from TOKENFORGE_PASSWORD when set; otherwise the user is
// prompted. A store without a file yet prompts for a new password with
// confirmation, and the first Set creates the file.
func unlockSecrets(cmd *cobra.Command) (*config.SecretStore, error) {
	projectDir, _ := cmd.Flags().GetString("project")
	store := config.NewSecretStore(projectDir)

	password := os.Getenv(passwordEnv)
	if password == "" {
		var err error
		if store.Exists() {
			password, err = promptHidden("Enter the tokenforge project password: ")
		} else {
			password, err = promptNewPassword()
		}
		if err != nil {
			return nil, err
		}
	}

	if err := store.Unlock(password); err != nil {
		return nil, err
	}
	return store, nil
}

// openSecrets unlocks the secret store for a run when one exists. Without
// a secrets file, and when the password is unavailable off-terminal, the
// locked store still serves environment variables.
func openSecrets(cmd *cobra.Command) (*config.SecretStore, error) {
	projectDir, _ := cmd.Flags().GetString("project")
	store := config.NewSecretStore(projectDir)
	if !store.Exists() {
		return store, nil
	}

	password := os.Getenv(passwordEnv)
	if password == "" {
		if !term.IsTerminal(syscall.Stdin) {
			logx.Warnf("⚠️  Secrets file present but %s is unset; falling back to environment variables", passwordEnv)
			return store, nil
		}
		var err error
		password, err = promptHidden("Enter the tokenforge project password: ")
		if err != nil {
			return nil, err
		}
	}

	if err := store.Unlock(password); err != nil {
		return nil, err
	}
	return store, nil
}

func promptHidden(prompt string) (string, error) {
	if !term.IsTerminal(syscall.Stdin) {
		return "", fmt.Errorf("stdin is not a terminal; set %s for passwordless use", passwordEnv)
	}
	fmt.Print(prompt)
	value, err := term.ReadPassword(syscall.Stdin)
	fmt.Println() // New line after hidden input
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(value), nil
}

// promptNewPassword prompts for a password with confirmation.
func promptNewPassword() (string, error) {
	if !term.IsTerminal(syscall.Stdin) {
		return "", fmt.Errorf("stdin is not a terminal; set %s for passwordless use", passwordEnv)
	}

	maxAttempts := 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Println()
		fmt.Print("Enter a password for this tokenforge project: ")
		password1, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		password2, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		if !bytes.Equal(password1, password2) {
			if attempt < maxAttempts {
				fmt.Println("❌ Passwords do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
		}

		// Passwords match
		password := string(password1)

		// Clear password bytes from memory
		for i := range password1 {
			password1[i] = 0
		}
		for i := range password2 {
			password2[i] = 0
		}

		fmt.Println()
		fmt.Println("🔐 This password encrypts your provider API keys.")
		fmt.Println("⚠️  You'll need it whenever tokenforge reads its secrets.")
		fmt.Printf("💡 Or store it in the environment variable %s for passwordless runs.\n", passwordEnv)

		return password, nil
	}

	return "", fmt.Errorf("failed to get matching passwords")
}
