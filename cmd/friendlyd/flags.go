package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Parse fills in opts from the command line, following the config
// file path as the sole positional argument.
func Parse(opts *Options) error {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <config-file>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	pflag.StringVar(&opts.Listen, "listen", "", "Override the account's listen address (host:port)")
	pflag.StringVar(&opts.Announce, "announce", "", "Rendezvous URL to periodically publish this node's certificate and address to")
	pflag.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "One of silent, error, info, debug")
	pflag.StringVar(&opts.ItemFile, "item-file", "", "Share this file as a piece-exchange item, seeded from its own content")
	pflag.IntVar(&opts.ItemPieceSize, "item-piece-size", opts.ItemPieceSize, "Piece size, in bytes, used when --item-file is set")
	pflag.StringVar(&opts.ItemQuery, "item-query", "", "Hex-encoded query this node terminates probes for, required with --item-file")
	pflag.BoolVar(&opts.Foreground, "foreground", false, "Remain in the foreground")
	pflag.BoolVarP(&opts.ShowVersion, "version", "v", false, "Print the version number and exit")

	pflag.Parse()

	if opts.ShowVersion {
		return nil
	}

	if pflag.NArg() != 1 {
		return fmt.Errorf("must pass exactly one config file path, got %d", pflag.NArg())
	}
	opts.ConfigPath = pflag.Arg(0)

	if opts.ItemFile != "" && opts.ItemQuery == "" {
		return fmt.Errorf("--item-file requires --item-query")
	}
	return nil
}
