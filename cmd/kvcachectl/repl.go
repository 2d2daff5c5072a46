package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"

	"github.com/calvinalkan/kvcache/pkg/kvcache"
)

// REPL is an interactive shell driving one [kvcache.Store].
type REPL struct {
	store *kvcache.Store
	dir   string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kvcachectl_history")
}

// Run starts the REPL loop.
func (r *REPL) Run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("kvcachectl - key/value cache shell (dir=%s)\n", r.dir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("kvcache> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "get":
			r.cmdGet(ctx, args)

		case "put":
			r.cmdPut(ctx, args)

		case "rm", "del", "delete":
			r.cmdRemove(ctx, args)

		case "flush":
			r.cmdFlush(ctx)

		case "free":
			r.cmdFree(ctx)

		case "scan", "ls", "list":
			r.cmdScan(ctx)

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()

	r.liner.WriteHistory(f)
}

func (r *REPL) completer(line string) []string {
	commands := []string{"get", "put", "rm", "flush", "free", "scan", "help", "exit", "quit"}

	var matches []string

	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			matches = append(matches, c)
		}
	}

	return matches
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  get <key>           print an entry's value
  put <key> <value>   store value (as bytes) under key
  rm <key>             remove an entry
  flush               force a durable flush
  free                release in-memory state
  scan                list the keys in the on-disk catalog
  clear               clear the screen
  help                show this help
  exit / quit         leave the shell`)
}

func (r *REPL) cmdGet(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")

		return
	}

	entry, err := r.store.Get(ctx, args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if entry == nil {
		fmt.Println("(absent)")

		return
	}

	fmt.Printf("%s\n", formatValue(entry.Value))
}

func (r *REPL) cmdPut(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: put <key> <value>")

		return
	}

	key := args[0]
	value := strings.Join(args[1:], " ")

	err := r.store.Put(ctx, &kvcache.CacheEntry{Key: key, Value: []byte(value)})
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (r *REPL) cmdRemove(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: rm <key>")

		return
	}

	if err := r.store.Remove(ctx, args[0]); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (r *REPL) cmdFlush(ctx context.Context) {
	if err := r.store.Flush(ctx); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("flushed")
}

func (r *REPL) cmdFree(ctx context.Context) {
	if err := r.store.Free(ctx); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("freed")
}

// cmdScan lists every key currently recorded in the on-disk catalog, since
// the Store exposes no enumeration API over the live map (spec 4.5: "the
// live map is consulted only by key").
func (r *REPL) cmdScan(ctx context.Context) {
	keys, err := kvcache.CatalogKeys(r.dir)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if len(keys) == 0 {
		fmt.Println("(catalog missing or empty; flush first)")

		return
	}

	width := 0
	for _, k := range keys {
		if w := runewidth.StringWidth(k); w > width {
			width = w
		}
	}

	for _, k := range keys {
		fmt.Printf("%-*s\n", width, k)
	}
}

func formatValue(v any) string {
	switch vv := v.(type) {
	case []byte:
		return string(vv)
	case string:
		return vv
	default:
		return fmt.Sprintf("%v", vv)
	}
}
