package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"pexelsync/pkg/auth"
	"pexelsync/pkg/ui"
)

var skipKeyCheck bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored Pexels API keys",
	Long: `Manage stored Pexels API keys and destination tokens.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Never share your API key or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store a Pexels API key securely",
	Long: `Store a Pexels API key, and optionally a destination API token, in the
system keychain or the encrypted credentials file.

The key is checked against Pexels before it is stored.`,
	Example: `  # Store the default profile
  pexelsync auth login

  # Store a second key under its own profile
  pexelsync auth login team`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "Remove stored credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Long:  `List all stored profiles with masked credential information.`,
	RunE:  runList,
}

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Show how to get a Pexels API key",
	Run: func(cmd *cobra.Command, args []string) {
		auth.ShowKeyGuide(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(guideCmd)

	loginCmd.Flags().BoolVar(&skipKeyCheck, "no-check", false, "store the key without checking it")
}

func profileArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	if profile != "" {
		return profile
	}
	return auth.DefaultProfile
}

func runLogin(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	console := ui.NewConsole(out)
	name := profileArg(args)

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	auth.ShowQuickKeyGuide(out)

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Fprintf(out, "\nProfile '%s' already exists. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Fprint(out, "\nPexels API key: ")
	key, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	if key == "" {
		return fmt.Errorf("API key is required")
	}

	fmt.Fprint(out, "Destination API token (press Enter to skip): ")
	token, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read destination token: %w", err)
	}

	if !skipKeyCheck {
		cfg, log, err := loadConfig(cmd, nil)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		client, err := newClient(cfg, key, nil, log)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "\nChecking the key with Pexels...")
		if err := client.CheckKey(cmd.Context()); err != nil {
			return fmt.Errorf("Pexels rejected the key: %w", err)
		}
	}

	cred := &auth.Credential{
		Profile:          name,
		APIKey:           key,
		DestinationToken: token,
	}
	if err := manager.Store(cred); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	console.Success(fmt.Sprintf("Profile saved: %s", name))
	fmt.Fprintln(out, "\nUse it with:")
	if name == auth.DefaultProfile {
		fmt.Fprintln(out, "  pexelsync run <query> --count 100")
	} else {
		fmt.Fprintf(out, "  pexelsync run <query> --count 100 --profile %s\n", name)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := profileArg(args)
	if err := manager.Delete(name); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	ui.NewConsole(cmd.OutOrStdout()).Success("Profile removed: " + name)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	creds, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	printCredentials(cmd.OutOrStdout(), creds)
	return nil
}

func printCredentials(out io.Writer, creds []*auth.Credential) {
	console := ui.NewConsole(out)
	if len(creds) == 0 {
		console.Info("No stored profiles", "Use 'pexelsync auth login' to add one")
		return
	}

	console.Highlight("Stored Profiles")
	fmt.Fprintln(out)
	for i, c := range creds {
		masked := auth.Sanitize(c)
		fmt.Fprintf(out, "%d. Profile: %s\n", i+1, masked.Profile)
		fmt.Fprintf(out, "   API key: %s\n", masked.APIKey)
		if masked.DestinationToken != "" {
			fmt.Fprintf(out, "   Destination token: %s\n", masked.DestinationToken)
		}
		if !masked.LastModified.IsZero() {
			fmt.Fprintf(out, "   Last Modified: %s\n", masked.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(out)
	}
}

// readSecret reads a line without echo when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
