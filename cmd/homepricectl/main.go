// Command homepricectl queries a homeprice server and manages its API keys.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	httpURL  string
	grpcAddr string
	apiKey   string
	dbPath   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "homepricectl",
		Short:         "Query home price estimates and manage API keys",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.httpURL, "url", envOr("HOMEPRICE_URL", "http://localhost:8080"), "server HTTP base URL")
	root.PersistentFlags().StringVar(&g.grpcAddr, "grpc-addr", envOr("HOMEPRICE_GRPC_ADDR", "localhost:9090"), "server gRPC address")
	root.PersistentFlags().StringVar(&g.apiKey, "api-key", os.Getenv("HOMEPRICE_API_KEY"), "API key sent as a bearer token")
	root.PersistentFlags().StringVar(&g.dbPath, "db", envOr("HISTORY_DB_PATH", "predictions.db"), "history database path (keys commands)")

	root.AddCommand(newPredictCmd(g), newLocationsCmd(g), newKeysCmd(g))
	return root
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
