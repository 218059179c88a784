// Command panewatch edits the durable watch subscription file. The daemon
// picks up edits on its next reconcile pass via the file's mtime, so this
// tool can run while panewatchd is polling.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"panewatch/internal/watch"
	"panewatch/pkg/logx"
)

const defaultStatePath = "./watches.json"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "add":
		err = cmdAdd(os.Args[2:])
	case "list":
		err = cmdList(os.Args[2:])
	case "enable":
		err = cmdSetEnabled(os.Args[2:], true)
	case "disable":
		err = cmdSetEnabled(os.Args[2:], false)
	case "remove":
		err = cmdRemove(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: panewatch <command> [flags]

commands:
  add      add or update a watched pane
  list     list watched panes
  enable   re-enable a watch by id
  disable  disable a watch by id (keeps its record)
  remove   delete a watch by id

Run "panewatch <command> -h" for command flags.
`)
}

func openStore(path string) *watch.Store {
	return watch.NewStore(path, logx.NewConsole("warn"))
}

func cmdAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	state := fs.String("state", defaultStatePath, "path to the watch state file")
	id := fs.String("id", "", "watch id to update (empty creates a new watch)")
	target := fs.String("target", "", "tmux pane address to watch (required for new watches)")
	label := fs.String("label", "", "human-readable label")
	note := fs.String("note", "", "note shown to the alert consumer")
	socket := fs.String("socket", "", "tmux socket path override")
	session := fs.String("session", "", "session key for destination resolution")
	interval := fs.Int("interval", 0, "capture interval in seconds (0 uses the daemon default)")
	stableCount := fs.Int("stable-count", 0, "identical captures required before alerting (0 uses the daemon default)")
	lines := fs.Int("lines", 0, "history lines to capture (0 uses the daemon default)")
	stripAnsi := fs.Bool("strip-ansi", false, "strip ANSI escapes before comparing content")
	_ = fs.Parse(args)

	p := watch.Patch{ID: *id}
	setIfFlagged(fs, "target", func() { p.Target = target })
	setIfFlagged(fs, "label", func() { p.Label = label })
	setIfFlagged(fs, "note", func() { p.Note = note })
	setIfFlagged(fs, "socket", func() { p.Socket = socket })
	setIfFlagged(fs, "session", func() { p.SessionKey = session })
	setIfFlagged(fs, "interval", func() { p.CaptureIntervalSeconds = interval })
	setIfFlagged(fs, "stable-count", func() { p.StableCount = stableCount })
	setIfFlagged(fs, "lines", func() { p.CaptureLines = lines })
	setIfFlagged(fs, "strip-ansi", func() { p.StripANSI = stripAnsi })

	sub, err := openStore(*state).Upsert(p)
	if err != nil {
		return err
	}
	fmt.Printf("watch %s -> %s\n", sub.ID, sub.Target)
	return nil
}

// setIfFlagged applies an assignment only when the flag was given, so an
// add over an existing id patches just the mentioned fields.
func setIfFlagged(fs *flag.FlagSet, name string, apply func()) {
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			apply()
		}
	})
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	state := fs.String("state", defaultStatePath, "path to the watch state file")
	_ = fs.Parse(args)

	st := openStore(*state).Load()
	if len(st.Subscriptions) == 0 {
		fmt.Println("no watches")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tLABEL\tENABLED\tINTERVAL\tSTABLE")
	for _, sub := range st.Subscriptions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
			sub.ID, sub.Target, sub.Label, sub.IsEnabled(),
			intervalColumn(sub), stableColumn(sub))
	}
	return w.Flush()
}

func intervalColumn(sub watch.Subscription) string {
	switch {
	case sub.CaptureIntervalSeconds > 0:
		return (time.Duration(sub.CaptureIntervalSeconds) * time.Second).String()
	case sub.IntervalMS > 0:
		return (time.Duration(sub.IntervalMS) * time.Millisecond).String()
	default:
		return "default"
	}
}

func stableColumn(sub watch.Subscription) string {
	switch {
	case sub.StableCount > 0:
		return fmt.Sprintf("%d polls", sub.StableCount)
	case sub.StableSeconds > 0:
		return fmt.Sprintf("%ds", sub.StableSeconds)
	default:
		return "default"
	}
}

func cmdSetEnabled(args []string, enabled bool) error {
	name := "disable"
	if enabled {
		name = "enable"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	state := fs.String("state", defaultStatePath, "path to the watch state file")
	_ = fs.Parse(args)
	id := fs.Arg(0)
	if id == "" {
		return fmt.Errorf("usage: panewatch %s [-state path] <id>", name)
	}

	store := openStore(*state)
	if _, err := store.Get(id); err != nil {
		return err
	}
	if _, err := store.Upsert(watch.Patch{ID: id, Enabled: &enabled}); err != nil {
		return err
	}
	fmt.Printf("watch %s %sd\n", id, name)
	return nil
}

func cmdRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	state := fs.String("state", defaultStatePath, "path to the watch state file")
	_ = fs.Parse(args)
	id := fs.Arg(0)
	if id == "" {
		return fmt.Errorf("usage: panewatch remove [-state path] <id>")
	}

	removed, err := openStore(*state).Remove(id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no watch with id %s", id)
	}
	fmt.Printf("watch %s removed\n", id)
	return nil
}
