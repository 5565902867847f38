// Command monty-run evaluates Monty source: a file, a -eval snippet, or
// an interactive REPL. With -watch it re-runs the file on every save.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/monty-lang/monty/internal/cli"
	"github.com/monty-lang/monty/internal/executor"
	"github.com/monty-lang/monty/internal/tracker"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		evalStr     = flag.String("eval", "", "evaluate a snippet and exit")
		debugMode   = flag.Bool("debug", false, "print resource usage after each run")
		watch       = flag.Bool("watch", false, "re-run the file on every save")
		noPrompt    = flag.Bool("no-prompt", false, "disable interactive prompt")
		historyFile = flag.String("history", ".monty_history", "history file path")
		maxHistory  = flag.Int("max-history", 1000, "maximum history entries")

		maxAllocs = flag.Uint64("max-allocs", 0, "cap heap allocations (0 = unlimited)")
		maxMemory = flag.Uint64("max-memory", 0, "cap tracked heap bytes (0 = unlimited)")
		maxMillis = flag.Uint64("max-millis", 0, "cap wall time in milliseconds (0 = unlimited)")
		gcEvery   = flag.Uint64("gc-interval", 1000, "allocations between GC cycles (0 = off)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [FILE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Monty interpreter: run a file, a -eval snippet, or a REPL.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nREPL COMMANDS:\n")
		fmt.Fprintf(os.Stderr, "  :help, :h          Show help\n")
		fmt.Fprintf(os.Stderr, "  :quit, :q, :exit   Exit REPL\n")
		fmt.Fprintf(os.Stderr, "  :load <file>       Run a file\n")
		fmt.Fprintf(os.Stderr, "  :history           Show input history\n")
	}

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("Monty", *jsonOutput)
		os.Exit(0)
	}

	limits := tracker.Limits{GCInterval: *gcEvery}
	if *maxAllocs > 0 {
		limits.MaxAllocations = *maxAllocs
		limits.HasMaxAllocs = true
	}
	if *maxMemory > 0 {
		limits.MaxMemoryBytes = *maxMemory
		limits.HasMaxMemory = true
	}
	if *maxMillis > 0 {
		limits.MaxDuration = time.Duration(*maxMillis) * time.Millisecond
		limits.HasMaxDur = true
	}

	if *evalStr != "" {
		out, err := runSource(*evalStr, "<eval>", limits)
		if err != nil {
			cli.ExitWithError("%v", err)
		}
		fmt.Println(out)
		if *debugMode {
			printResourceUsage()
		}
		return
	}

	if file := flag.Arg(0); file != "" {
		if *watch {
			watchAndRun(file, limits)
			return
		}
		if err := runFile(file, limits); err != nil {
			cli.ExitWithError("%v", err)
		}
		if *debugMode {
			printResourceUsage()
		}
		return
	}

	repl := newREPL(*historyFile, *maxHistory, limits)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nGoodbye!")
		repl.saveHistory()
		os.Exit(0)
	}()

	repl.loadHistory()
	if !*noPrompt {
		repl.printWelcome()
	}
	repl.run(*noPrompt)
}

// printResourceUsage reports the OS view of process memory, letting a
// user sanity-check -max-memory budgets against reality.
func printResourceUsage() {
	if rss, ok := tracker.ProcessRSSBytes(); ok {
		fmt.Fprintf(os.Stderr, "rss: %d bytes\n", rss)
	}
}

func runSource(source, filename string, limits tracker.Limits) (string, error) {
	ex, err := executor.New(source, filename, nil)
	if err != nil {
		return "", err
	}
	out, err := ex.RunWithLimits(nil, limits)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func runFile(file string, limits tracker.Limits) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	ex, cerr := executor.New(string(content), file, nil)
	if cerr != nil {
		return cerr
	}
	out, rerr := ex.RunWithLimits(nil, limits)
	if rerr != nil {
		return rerr
	}
	if out.Kind != executor.HostNone {
		fmt.Println(out)
	}
	return nil
}

// watchAndRun runs the file once, then re-runs it after every write
// event until interrupted.
func watchAndRun(file string, limits tracker.Limits) {
	if err := runFile(file, limits); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cli.ExitWithError("cannot watch %s: %v", file, err)
	}
	defer watcher.Close()
	if err := watcher.Add(file); err != nil {
		cli.ExitWithError("cannot watch %s: %v", file, err)
	}

	fmt.Fprintf(os.Stderr, "watching %s\n", file)
	var lastRun time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Editors fire bursts of events per save.
			if time.Since(lastRun) < 100*time.Millisecond {
				continue
			}
			lastRun = time.Now()
			fmt.Fprintf(os.Stderr, "--- %s\n", time.Now().Format("15:04:05"))
			if err := runFile(file, limits); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", werr)
		}
	}
}

type repl struct {
	historyFile string
	maxHistory  int
	history     []string
	limits      tracker.Limits
	scanner     *bufio.Scanner

	// session accumulates assignments so each line sees earlier state;
	// the whole buffer is re-run per input, which is cheap at REPL scale.
	session []string
}

func newREPL(historyFile string, maxHistory int, limits tracker.Limits) *repl {
	return &repl{
		historyFile: historyFile,
		maxHistory:  maxHistory,
		limits:      limits,
		scanner:     bufio.NewScanner(os.Stdin),
	}
}

func (r *repl) printWelcome() {
	info := cli.GetVersionInfo()
	fmt.Printf("Monty %s\n", info.Version)
	fmt.Printf("Type :help for help, :quit to exit\n\n")
}

func (r *repl) run(noPrompt bool) {
	for {
		if !noPrompt {
			fmt.Print("monty> ")
		}
		if !r.scanner.Scan() {
			break
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		r.addHistory(line)

		if strings.HasPrefix(line, ":") {
			if r.handleCommand(line) {
				break
			}
			continue
		}

		out, err := r.evaluate(line)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if out != "None" {
			fmt.Printf("=> %s\n", out)
		}
	}
	r.saveHistory()
}

func (r *repl) evaluate(line string) (string, error) {
	source := strings.Join(append(append([]string(nil), r.session...), line), "\n")
	out, err := runSource(source, "<repl>", r.limits)
	if err != nil {
		return "", err
	}
	// Statements that parse and run become part of the session.
	if strings.Contains(line, "=") || strings.HasPrefix(line, "def ") ||
		strings.HasPrefix(line, "for ") || strings.HasPrefix(line, "while ") ||
		strings.HasPrefix(line, "if ") {
		r.session = append(r.session, line)
	}
	return out, nil
}

func (r *repl) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	switch parts[0] {
	case ":help", ":h":
		fmt.Println("REPL Commands:")
		fmt.Println("  :help, :h          Show this help")
		fmt.Println("  :quit, :q, :exit   Exit REPL")
		fmt.Println("  :reset             Clear session state")
		fmt.Println("  :load <file>       Run a file")
		fmt.Println("  :history           Show input history")
	case ":quit", ":q", ":exit":
		fmt.Println("Goodbye!")
		return true
	case ":reset":
		r.session = nil
		fmt.Println("Session reset")
	case ":load":
		if len(parts) < 2 {
			fmt.Println("Usage: :load <file>")
		} else if err := runFile(parts[1], r.limits); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	case ":history":
		for i, h := range r.history {
			fmt.Printf("%3d: %s\n", i+1, h)
		}
	default:
		fmt.Printf("Unknown command: %s\n", parts[0])
	}
	return false
}

func (r *repl) addHistory(line string) {
	r.history = append(r.history, line)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

func (r *repl) loadHistory() {
	content, err := os.ReadFile(r.historyFile)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(content), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			r.history = append(r.history, line)
		}
	}
	if len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
}

func (r *repl) saveHistory() {
	if len(r.history) == 0 {
		return
	}
	_ = os.WriteFile(r.historyFile, []byte(strings.Join(r.history, "\n")), 0o644)
}
