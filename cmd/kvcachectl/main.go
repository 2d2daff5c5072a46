// kvcachectl is an interactive shell over a [kvcache.Store] directory.
//
// Usage:
//
//	kvcachectl [flags] <dir>
//
// Flags:
//
//	--multi-file          use MULTI_FILE mode (values externalized to sidecars)
//	--flush-delay dur     coalescing window, e.g. 500ms (default 1s)
//	--config path         JSONC config file (default <dir>/.kvcachectl.json)
//
// Commands (in REPL):
//
//	get <key>             print an entry's value
//	put <key> <value>     store value (as bytes) under key
//	rm <key>              remove an entry
//	flush                 force a durable flush
//	free                  release in-memory state (reloads lazily after)
//	scan                  list the keys in the on-disk catalog
//	help                  show this help
//	exit / quit           leave the shell
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/calvinalkan/kvcache/pkg/kvcache"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "kvcachectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("kvcachectl", pflag.ContinueOnError)

	multiFile := flags.Bool("multi-file", false, "use MULTI_FILE mode")
	flushDelay := flags.Duration("flush-delay", kvcache.DefaultFlushDelay, "coalescing window")
	configPath := flags.String("config", "", "JSONC config file (default <dir>/.kvcachectl.json)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() < 1 {
		return fmt.Errorf("usage: kvcachectl [flags] <dir>")
	}

	dir := flags.Arg(0)

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dir, ".kvcachectl.json")
	}

	fileCfg, err := loadFileConfig(cfgPath)
	if err != nil {
		return err
	}

	opts := kvcache.Options{
		Dir:       dir,
		MultiFile: fileCfg.MultiFile,
	}

	if flags.Changed("multi-file") {
		opts.MultiFile = *multiFile
	}

	if flags.Changed("flush-delay") {
		opts.FlushDelay = flushDelay
	} else if fileCfg.FlushDelay != "" {
		d, err := time.ParseDuration(fileCfg.FlushDelay)
		if err != nil {
			return fmt.Errorf("config flush_delay: %w", err)
		}

		opts.FlushDelay = &d
	}

	store, err := kvcache.Open(opts)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	repl := &REPL{store: store, dir: dir}

	return repl.Run(context.Background())
}
