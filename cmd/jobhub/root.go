package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JadKHaddad-ORG/JobHub/client"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	server     string
	token      string
	owner      string
	format     string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "jobhub",
		Short:         "Job orchestration hub: run commands, watch them, fetch their outputs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "jobhub.yaml", "config file for serve")
	pf.StringVar(&g.server, "server", envOr("JOBHUB_SERVER", "http://localhost:8080"), "server base URL")
	pf.StringVar(&g.token, "token", os.Getenv("JOBHUB_TOKEN"), "API token")
	pf.StringVar(&g.owner, "owner", os.Getenv("JOBHUB_OWNER"), "owner id the client acts as")
	pf.StringVar(&g.format, "wire-format", "json", "websocket codec: json or msgpack")

	root.AddCommand(
		newServeCmd(g),
		newSubmitCmd(g),
		newGetCmd(g),
		newListCmd(g),
		newCancelCmd(g),
		newWatchCmd(g),
		newDownloadCmd(g),
		newLogsCmd(g),
		newOwnerCmd(g),
	)
	return root
}

// client builds an API client from the global flags.
func (g *globals) client() (*client.Client, error) {
	return client.New(g.server,
		client.WithToken(g.token),
		client.WithOwner(g.owner),
		client.WithFormat(g.format),
	)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
