// Command mbg is the external entry point for the generator. The core
// pipeline (src/gen) is the thing spec.md actually specifies; this wires it
// to argv, the environment and the filesystem the way the teacher's
// src/please.go wires src/plz to a CLI, a config file and a repo root.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/karrick/godirwalk"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/sulmone/mbg/src/cli/logging"
	"github.com/sulmone/mbg/src/config"
	emitmake "github.com/sulmone/mbg/src/emit/make"
	"github.com/sulmone/mbg/src/gen"
)

var log = logging.Log

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	// Hidden subcommand the Make back-end's generated do_cmd shells out to
	// after every compile (src/emit/make's DEPFLAGS/do_cmd), to turn the
	// compiler's raw -MMD output into the .d fragment's -include line reads.
	// Not part of the §6 CLI surface; config.Parse never sees it.
	if len(argv) == 2 && argv[0] == "-fixup-dep" {
		if err := emitmake.RunFixupDep(argv[1]); err != nil {
			log.Error("%s", err)
			return 1
		}
		return 0
	}

	if _, err := maxprocs.Set(maxprocs.Logger(log.Info)); err != nil {
		log.Warning("failed to set GOMAXPROCS: %s", err)
	}

	opts, err := config.Parse(argv)
	if err != nil {
		log.Error("%s", err)
		return 1
	}

	entryFiles, err := resolveEntryFiles(opts)
	if err != nil {
		log.Error("%s", err)
		return 1
	}
	opts.Args.EntryFiles = entryFiles

	cfg, err := config.ToGenConfig(opts, config.OSEnv{})
	if err != nil {
		log.Error("%s", err)
		return 1
	}

	start := time.Now()
	res, err := gen.New().Generate(cfg)
	if err != nil {
		log.Error("%s", err)
		return 1
	}
	if res.Warnings != nil {
		for _, w := range res.Warnings.Errors {
			log.Warning("%s", w)
		}
	}

	log.Notice("generated %d targets via %v in %s (%s of BuildFiles read)",
		len(res.Targets), orDefault(cfg.Generators, []string{"make"}), time.Since(start).Round(time.Millisecond),
		humanize.Bytes(totalSize(entryFiles)))
	return 0
}

// totalSize sums the on-disk size of the given files, best-effort (a
// missing/unreadable file just contributes zero) — purely a cosmetic
// figure for the summary line, not used by the pipeline itself.
func totalSize(paths []string) uint64 {
	var total uint64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			total += uint64(info.Size())
		}
	}
	return total
}

// resolveEntryFiles returns the BuildFiles opts names on the command line,
// or (when none were given) every "*.build" file godirwalk finds under the
// current directory, mirroring the teacher's "no args means build //..."
// convention (src/please.go) adapted to a generator that has no target
// pattern syntax of its own to default to.
func resolveEntryFiles(opts *config.Options) ([]string, error) {
	if len(opts.Args.EntryFiles) > 0 {
		return opts.Args.EntryFiles, nil
	}
	var found []string
	err := godirwalk.Walk(".", &godirwalk.Options{
		Callback: func(path string, info *godirwalk.Dirent) error {
			if !info.IsDir() && filepath.Ext(path) == ".build" {
				found = append(found, path)
			}
			return nil
		},
		Unsorted: false,
	})
	if err != nil {
		return nil, fmt.Errorf("discovering BuildFiles: %w", err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no BuildFiles found under %s and none given on the command line", mustGetwd())
	}
	return found, nil
}

func orDefault(xs, def []string) []string {
	if len(xs) == 0 {
		return def
	}
	return xs
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
