// meshctl is the operator CLI for the meshmon daemon. Every command is a
// thin wrapper over the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "meshctl",
		Short:         "Operate the trading-node mesh",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("server", "http://localhost:8080", "meshmon API address")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	v.SetEnvPrefix("MESHCTL")
	_ = v.BindEnv("server")

	client := func() *apiClient {
		return newAPIClient(v.GetString("server"))
	}

	root.AddCommand(
		newStatusCommand(client),
		newNodesCommand(client),
		newFailoverCommand(client),
		newTestCommand(client),
		newEventsCommand(client),
		newSuggestionsCommand(client),
	)
	return root
}
