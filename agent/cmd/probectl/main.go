// Command probectl is the operator view of a probewatch-server: it prints
// the current session, follows the live stream with a progress bar, lists
// archived sessions and clears the board.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/probewatch/probewatch/agent/internal/client"
)

type rootOptions struct {
	Server    string
	APIKeyEnv string
	Header    string
	H2C       bool
	JSON      bool
	Timeout   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "probectl",
		Short: "Inspect and follow probewatch sessions",
		Example: `  probectl status
  probectl watch --server http://probes.internal:8080
  PROBEWATCH_API_KEY=... probectl clear`,
		SilenceUsage: true,
	}

	server := os.Getenv("PROBEWATCH_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", server, "probewatch-server HTTP address")
	cmd.PersistentFlags().StringVar(&opts.APIKeyEnv, "api-key-env", "PROBEWATCH_API_KEY", "environment variable holding the API key")
	cmd.PersistentFlags().StringVar(&opts.Header, "header", "X-API-Key", "header the API key is sent in")
	cmd.PersistentFlags().BoolVar(&opts.H2C, "h2c", false, "use cleartext HTTP/2 for REST calls")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print raw JSON instead of tables")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-request timeout")

	cmd.AddCommand(
		newStatusCmd(opts),
		newWatchCmd(opts),
		newClearCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}

func (o *rootOptions) client() (*client.Client, error) {
	c, err := client.New(o.Server, client.Options{
		APIKey:  os.Getenv(o.APIKeyEnv),
		Header:  o.Header,
		H2C:     o.H2C,
		Timeout: o.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("probectl: %w", err)
	}
	return c, nil
}
