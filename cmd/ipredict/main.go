package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wlkla/iPredict/internal/config"
	appLog "github.com/wlkla/iPredict/internal/log"
	"github.com/wlkla/iPredict/internal/store"
)

const version = "0.3.0"

// globalFlags are accepted before the subcommand name.
type globalFlags struct {
	configPath string
	dataPath   string
	logLevel   string
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"serve", "serve [-listen addr]", runServe},
	{"add", "add [-date YYYY-MM-DD] [-category name]", runAdd},
	{"delete", "delete -id ID [-category name]", runDelete},
	{"list", "list [-category name]", runList},
	{"status", "status [-category name]", runStatus},
	{"export", "export [-all] [-format csv|ics] [-out file] [-passphrase p]", runExport},
	{"import", "import -in file [-all] [-passphrase p] [-category name]", runImport},
	{"capture", "capture [-url url] [-out file]", runCapture},
	{"category", "category list | add NAME [-color #RRGGBB] | activate NAME | delete NAME", runCategory},
	{"theme", "theme [preset]", runTheme},
	{"reminders", "reminders", runReminders},
}

// app holds what every subcommand needs.
type app struct {
	cfg        *config.Config
	configPath string
	loc        *time.Location
	store      *store.Store
}

func main() {
	flags := parseFlags()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cmd, ok := findCommand(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Warn("using default config", "config_path", flags.configPath, "reason", err.Error())
	}
	if flags.dataPath != "" {
		conf.DataPath = flags.dataPath
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("unknown timezone, using local", "timezone", conf.Timezone)
	}

	appLog.Debug("effective config",
		"command", cmd.name,
		"listen", conf.Listen,
		"timezone", loc.String(),
		"data_path", conf.DataPath,
		"default_interval_days", conf.DefaultIntervalDays,
		"reminders", conf.Reminder.Enabled,
	)

	st, err := store.Open(conf.DataPath, loc)
	if err != nil {
		appLog.Error("failed to open data store", err, "data_path", conf.DataPath)
		os.Exit(1)
	}
	defer st.Close()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a := &app{cfg: conf, configPath: flags.configPath, loc: loc, store: st}
	if err := cmd.run(ctx, a, args[1:]); err != nil {
		appLog.Error(cmd.name+" failed", err)
		st.Close()
		os.Exit(1)
	}
}

func parseFlags() globalFlags {
	var g globalFlags

	flag.StringVar(&g.configPath, "config", config.DefaultPath(), "Path to config file")
	flag.StringVar(&g.dataPath, "data", "", "Database path (overrides config if set)")
	flag.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (overrides config if set)")
	flag.Usage = usage

	flag.Parse()

	return g
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	fmt.Fprintf(os.Stderr, "ipredict %s\n\nUsage: ipredict [-config file] [-data file] [-log-level lvl] <command> [flags]\n\nCommands:\n", version)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
}
