package main

// Options holds every process-level configuration knob, populated by
// Parse from the command line.
type Options struct {
	ConfigPath string

	Listen   string
	Announce string
	LogLevel string

	ItemFile      string
	ItemPieceSize int
	ItemQuery     string

	Foreground  bool
	ShowVersion bool
}

// NewOptions returns an Options with the defaults Parse overlays flags
// onto.
func NewOptions() *Options {
	return &Options{
		LogLevel:      "info",
		ItemPieceSize: 1 << 16,
	}
}
