package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/tv42/httpunix"
)

// controlLocation is the httpunix.Transport location name this process
// registers its control socket requests under. It never appears on the
// wire; it only needs to be consistent between RegisterLocation and the
// "http+unix://" URLs built below.
const controlLocation = "chorusd-control"

func newWalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wal",
		Short: "Inspect a running node's write-ahead log over its control socket",
	}
	cmd.AddCommand(newWalInspectCmd())
	return cmd
}

func newWalInspectCmd() *cobra.Command {
	var (
		controlSocket string
		height        uint64
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the WAL entries recorded for a height",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := controlClient(controlSocket)

			url := fmt.Sprintf("http+unix://%s/wal/%d", controlLocation, height)
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("requesting wal: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("control server returned %s: %s", resp.Status, body)
			}

			var entries []json.RawMessage
			if err := json.Unmarshal(body, &entries); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			for i, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, e)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&controlSocket, "control-socket", "", "unix socket path of the running node's control server (required)")
	cmd.Flags().Uint64Var(&height, "height", 1, "height whose WAL to inspect")
	cmd.MarkFlagRequired("control-socket")

	return cmd
}

// controlClient builds an http.Client that dials socketPath for every
// request to the "http+unix" scheme, the usage tv42/httpunix is built for:
// a RoundTripper that maps a fixed location name to a unix socket path.
func controlClient(socketPath string) *http.Client {
	t := &httpunix.Transport{
		DialTimeout:           1 * time.Second,
		RequestTimeout:        5 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	t.RegisterLocation(controlLocation, socketPath)

	return &http.Client{Transport: t}
}
