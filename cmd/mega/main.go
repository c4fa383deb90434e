// Command mega is the CLI driver for the versioned deduplicating
// backup store implemented by internal/store.
//
// Grounded on the teacher's main.go (LeilaRenard-dna-backup): the same
// subcommand/flag.FlagSet shape, generalized from commit/restore's
// two positional folder args to ingest/restore's stream-of-bytes
// version semantics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/HIT-HSSL/MeGA/internal/logger"
	"github.com/HIT-HSSL/MeGA/internal/store"
)

type command struct {
	Flag  *flag.FlagSet
	Usage string
	Help  string
	Run   func([]string) error
}

const (
	name          = "mega"
	baseUsage     = "<command> [<options>] [--] <args>"
	ingestUsage   = "[<options>] [--] <repo> <image>"
	ingestHelp    = "Ingest <image> as the next version of <repo>"
	restoreUsage  = "[<options>] [--] <repo> <version> <dest>"
	restoreHelp   = "Restore <version> from <repo> into <dest>"
)

var (
	logLevel    int
	ingestCmd   = flag.NewFlagSet("ingest", flag.ExitOnError)
	restoreCmd  = flag.NewFlagSet("restore", flag.ExitOnError)
	subcommands = map[string]command{
		ingestCmd.Name():  {ingestCmd, ingestUsage, ingestHelp, ingestMain},
		restoreCmd.Name(): {restoreCmd, restoreUsage, restoreHelp, restoreMain},
	}
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s %s\n\ncommands:\n", name, baseUsage)
		for _, s := range subcommands {
			fmt.Printf("  %s\t%s\n", s.Flag.Name(), s.Help)
		}
		os.Exit(1)
	}
	for _, s := range subcommands {
		s.Flag.IntVar(&logLevel, "v", 3, "log verbosity level (0-4)")
	}
}

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
	}
	cmd, exists := subcommands[args[0]]
	if !exists {
		fmt.Fprintf(flag.CommandLine.Output(), "error: unknown command %s\n\n", args[0])
		flag.Usage()
	}
	cmd.Flag.Usage = func() {
		fmt.Fprintf(cmd.Flag.Output(), "usage: %s %s %s\n\noptions:\n", name, cmd.Flag.Name(), cmd.Usage)
		cmd.Flag.PrintDefaults()
		os.Exit(1)
	}
	cmd.Flag.Parse(args[1:])
	logger.SetDefault(logger.New(logLevel))
	if err := cmd.Run(cmd.Flag.Args()); err != nil {
		fmt.Fprintf(cmd.Flag.Output(), "error: %s\n\n", err)
		cmd.Flag.Usage()
	}
}

func ingestMain(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("wrong number of args")
	}
	repoPath, imagePath := args[0], args[1]

	s, err := store.Open(store.DefaultOptions(repoPath))
	if err != nil {
		return err
	}
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("opening %q: %w", imagePath, err)
	}
	defer f.Close()

	version := s.TotalVersion() + 1
	if err := s.Ingest(context.Background(), f); err != nil {
		return err
	}
	logger.Default().Infof("ingested version %d from %s into %s", version, imagePath, repoPath)
	return nil
}

func restoreMain(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("wrong number of args")
	}
	repoPath, versionArg, destPath := args[0], args[1], args[2]

	var target int
	if _, err := fmt.Sscanf(versionArg, "%d", &target); err != nil {
		return fmt.Errorf("invalid version %q: %w", versionArg, err)
	}

	s, err := store.Open(store.DefaultOptions(repoPath))
	if err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %q: %w", destPath, err)
	}
	defer out.Close()

	if err := s.Restore(context.Background(), target, out); err != nil {
		return err
	}
	logger.Default().Infof("restored version %d from %s into %s", target, repoPath, destPath)
	return nil
}
