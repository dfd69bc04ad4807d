package main

import "flag"

// Options holds CLI options for the channel tool.
type Options struct {
	ConfigPath string
	Mode       string // send or recv
	Address    string // endpoint in the active transport's notation; empty mints one
	Message    string // payload for send mode
	Count      int    // messages to send or receive; 0 in recv mode drains until EOF
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("ygg-chan", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Mode, "mode", "recv", "Channel role: send or recv")
	fs.StringVar(&opts.Address, "addr", "", "Channel address; empty mints a fresh default address")
	fs.StringVar(&opts.Message, "msg", "", "Message payload in send mode")
	fs.IntVar(&opts.Count, "count", 1, "Messages to send, or to receive (0 drains until EOF)")
	_ = fs.Parse(args)
	return opts
}
