// Command cook builds file-construction targets from a cookbook,
// resolving a dependency graph with backtracking and running recipe
// bodies with bounded parallelism (spec.md §1, §6 "External interface").

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sanity-io/litter"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("cook", flag.ContinueOnError)

	bookPath := fs.StringP("file", "f", "cookbook", "cookbook to read")
	chdir := fs.StringP("directory", "C", "", "change to directory before building")
	dryRun := fs.BoolP("dry-run", "n", false, "print recipes instead of running them")
	keepGoing := fs.BoolP("keep-going", "k", false, "keep building unrelated targets after an error")
	jobs := fs.IntP("jobs", "j", 1, "maximum number of recipes to run in parallel")
	silent := fs.BoolP("silent", "s", false, "don't echo recipe commands before running them")
	touch := fs.BoolP("touch", "t", false, "mark targets up to date without running recipes")
	forceTarget := fs.Bool("force-target", false, "treat every target as out of date regardless of mtimes (same as --force-all)")
	forceAll := fs.Bool("force-all", false, "rebuild everything regardless of mtimes")
	fingerprint := fs.Bool("fingerprint", false, "use content fingerprints instead of timestamps alone")
	regex := fs.Bool("regex", false, "match target patterns as regular expressions instead of cook %-patterns")
	update := fs.BoolP("newer", "u", false, "nudge target timestamps forward without rebuilding")
	color := fs.String("color", "auto", "colorize recipe echo output: auto, always, never")
	rsh := fs.String("rsh", "", "remote shell command for host-bound recipes (default rsh)")
	tellPos := fs.BoolP("tell-position", "w", false, "prefix echoed recipes with their cookbook position")
	debugGraph := fs.String("graph-out", "", "write a graphviz dump of the dependency graph to this path")
	fpdbPath := fs.String("fpdb", "", "fingerprint database path (default .cook-fpdb in -C directory)")
	reason := fs.Bool("reason", false, "record why each target was judged out of date")
	reasonQuery := fs.String("reason-query", "", "JMESPath expression filtering the --reason trace")

	if err := fs.Parse(argv); err != nil {
		return 2
	}
	targets := fs.Args()

	if *chdir != "" {
		if err := os.Chdir(*chdir); err != nil {
			fmt.Fprintln(os.Stderr, "cook: "+err.Error())
			return 1
		}
	}

	opts := NewOptionStack()
	opts.Set(LevelDefault, FlagAction, true)
	opts.Set(LevelDefault, FlagGateBeforeIngredients, true)
	opts.Set(LevelDefault, FlagImplicitAllowed, true)
	opts.Set(LevelDefault, FlagCascade, true)
	opts.Set(LevelDefault, FlagTouch, false)

	opts.Set(LevelCommandLine, FlagAction, !*dryRun)
	opts.Set(LevelCommandLine, FlagPersevere, *keepGoing)
	opts.Set(LevelCommandLine, FlagSilent, *silent)
	opts.Set(LevelCommandLine, FlagTouch, *touch)
	opts.Set(LevelCommandLine, FlagForce, *forceTarget || *forceAll)
	opts.Set(LevelCommandLine, FlagFingerprint, *fingerprint)
	opts.Set(LevelCommandLine, FlagMatchModeRegex, *regex)
	opts.Set(LevelCommandLine, FlagUpdate, *update)
	opts.Set(LevelCommandLine, FlagTellPosition, *tellPos)
	opts.Set(LevelCommandLine, FlagReason, *reason || *reasonQuery != "")

	shouldColor := *color == "always" || (*color == "auto" && term.IsTerminal(int(os.Stdout.Fd())))

	if *jobs < 1 {
		*jobs = 1
	}

	fpStore := FingerprintStore(nil)
	if s3spec := os.Getenv("COOK_FPDB_S3"); s3spec != "" {
		store, err := NewS3FingerprintStore(s3spec)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cook: "+err.Error())
			return 1
		}
		fpStore = store
	} else {
		path := *fpdbPath
		if path == "" {
			path = ".cook-fpdb"
		}
		fpStore = &LocalFingerprintStore{Path: path}
	}

	var globalHosts []string
	if v := os.Getenv("COOK_HOSTS"); v != "" {
		globalHosts = append(globalHosts, v)
	}

	engine := NewEngine(opts, defaultSearchRoots(), fpStore, *rsh, globalHosts)
	engine.Color = shouldColor
	engine.Globals["parallel_jobs"] = NewWordList(itoa(*jobs))

	if err := engine.LoadCookbook(*bookPath); err != nil {
		fmt.Fprintln(os.Stderr, "cook: "+err.Error())
		return 1
	}

	if len(targets) == 0 {
		targets = defaultTargets(engine)
	}
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "cook: no targets and no default target in "+*bookPath)
		return 1
	}

	// Cooperative cancellation (spec.md §4.8 "Cancellation", §5 "signal
	// handler sets a flag"): interrupt/hangup/terminate raise desist so
	// the walker stops launching new recipes and waits for outstanding
	// ones to finish, rather than killing children outright.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	sigDone := make(chan struct{})
	defer close(sigDone)
	go func() {
		select {
		case <-sigCh:
			if engine.RaiseDesist != nil {
				engine.RaiseDesist()
			}
		case <-sigDone:
		}
	}()

	buildErr := engine.Build(targets)

	if *reason || *reasonQuery != "" {
		printReasonTrace(engine, *reasonQuery)
	}
	if *debugGraph != "" {
		if err := engine.DumpGraph(*debugGraph); err != nil {
			fmt.Fprintln(os.Stderr, "cook: "+err.Error())
		}
	}
	if buildErr != nil {
		fmt.Fprintln(os.Stderr, "cook: "+buildErr.Error())
		return 1
	}
	return 0
}

// printReasonTrace prints the --reason out-of-date trace, narrowed by
// --reason-query if given, via litter so the structure is legible
// without a bespoke formatter.
func printReasonTrace(e *Engine, query string) {
	trace, err := e.Exec.ReasonTrace(query)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cook: --reason-query: "+err.Error())
		return
	}
	fmt.Fprintln(os.Stderr, litter.Sdump(trace))
}

// defaultTargets falls back to the first explicit recipe's first
// literal (non-wild) target, mirroring make-family tools' "first rule
// wins" default (spec.md §6 "no targets named on the command line").
func defaultTargets(e *Engine) []string {
	for _, r := range e.Recipes.AllExplicit() {
		for _, tp := range r.Targets {
			if !tp.IsWild() {
				return []string{tp.Literal}
			}
		}
	}
	return nil
}
