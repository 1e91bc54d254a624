package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve     *ServeCommand
	Status    *StatusCommand
	Query     *QueryCommand
	Show      *ShowCommand
	Add       *AddCommand
	Remove    *RemoveCommand
	Prune     *PruneCommand
	Purge     *PurgeCommand
	Report    *ReportCommand
	Blacklist *BlacklistCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "pagetime"
	parser.LongDescription = "Local visible-time tracking for browser tabs, with a navigation blacklist."

	base := func() cmdBase { return cmdBase{globals: &globals, version: version} }

	cmds := &commands{
		Serve:     &ServeCommand{cmdBase: base()},
		Status:    &StatusCommand{cmdBase: base()},
		Query:     &QueryCommand{cmdBase: base()},
		Show:      &ShowCommand{cmdBase: base()},
		Add:       &AddCommand{cmdBase: base()},
		Remove:    &RemoveCommand{cmdBase: base()},
		Prune:     &PruneCommand{cmdBase: base()},
		Purge:     &PurgeCommand{cmdBase: base()},
		Report:    &ReportCommand{cmdBase: base()},
		Blacklist: &BlacklistCommand{},
	}
	cmds.Blacklist.List.cmdBase = base()
	cmds.Blacklist.Add.cmdBase = base()
	cmds.Blacklist.Remove.cmdBase = base()
	cmds.Blacklist.Fallback.cmdBase = base()

	parser.AddCommand("serve", "Run the tracking daemon", "Run the tracking daemon: the loopback HTTP bridge the browser extension reports to.", cmds.Serve)
	parser.AddCommand("status", "Show store statistics and daemon health", "Show database statistics, daemon health, and configuration summary.", cmds.Status)
	parser.AddCommand("query", "List recorded visits", "List recorded visits by id, domain, URL, or time range.", cmds.Query)
	parser.AddCommand("show", "Print one recorded visit", "Print every field of one recorded visit.", cmds.Show)
	parser.AddCommand("add", "Manually record a visit", "Manually record a finished visit of a URL.", cmds.Add)
	parser.AddCommand("remove", "Delete recorded visits", "Delete recorded visits matching any of the given criteria.", cmds.Remove)
	parser.AddCommand("prune", "Apply retention pruning", "Delete finished visits older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL recorded visits", "Delete ALL recorded visits. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("report", "Per-day visible time", "Show visible time per day and URL.", cmds.Report)
	parser.AddCommand("blacklist", "Manage the navigation blacklist", "List, add, or remove blacklist patterns and set the fallback page.", cmds.Blacklist)

	return parser, &globals, cmds
}

// Run is the main entry point for the pagetime CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("pagetime %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
