package main

import (
	"log/slog"
	"os"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"
)

// rootFlags holds the persistent, CLI-wide configuration every subcommand
// reads from, populated by cobra before a subcommand's RunE runs.
type rootFlags struct {
	nodeName string
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "chorusd",
		Short: "Run and operate a chorus BFT consensus node",
		Long: `chorusd runs a single chorus consensus participant: the round state
machine, vote keeper, and driver described by the core package layout,
wired to durable storage and a libp2p gossip transport.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(
		&flags.nodeName, "node-name", petname.Generate(2, "-"),
		"human-readable node name used only in logs and telemetry, never in consensus-affecting data",
	)
	root.PersistentFlags().StringVar(
		&flags.logLevel, "log-level", "info",
		"minimum log level: debug, info, warn, error",
	)

	root.AddCommand(
		newStartCmd(flags),
		newGenesisCmd(),
		newWalCmd(),
	)

	return root
}

func newLogger(flags *rootFlags) *slog.Logger {
	var level slog.Level
	switch flags.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("node", flags.nodeName)
}
