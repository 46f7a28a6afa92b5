// cmd/readhubctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"readhub/internal/clients"
)

// cli holds the state shared by every subcommand.
type cli struct {
	gateway   string
	tokenFile string

	// readPassword prompts for a secret without echoing it.
	readPassword func(prompt string) (string, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{readPassword: promptPassword}
	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "readhubctl",
		Short:         "Command-line client for the ReadHub library",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.gateway, "gateway", envOr("READHUB_GATEWAY", "http://localhost:8080"), "API gateway URL")
	root.PersistentFlags().StringVar(&c.tokenFile, "token-file", defaultTokenFile(), "where the session token is kept")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.booksCmd(),
		c.borrowCmd(),
		c.returnCmd(),
		c.loansCmd(),
		c.reportCmd(),
		c.feedbackCmd(),
	)
	return root
}

// client returns a gateway client carrying the saved session, if any.
func (c *cli) client() *clients.Client {
	return clients.NewClient(c.gateway, c.loadToken())
}

func (c *cli) loadToken() string {
	data, err := os.ReadFile(c.tokenFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *cli) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.tokenFile), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(c.tokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "readhub", "token")
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
