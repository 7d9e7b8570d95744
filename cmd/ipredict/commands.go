package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wlkla/iPredict/internal/capture"
	"github.com/wlkla/iPredict/internal/exchange"
	"github.com/wlkla/iPredict/internal/ics"
	appLog "github.com/wlkla/iPredict/internal/log"
	"github.com/wlkla/iPredict/internal/metrics"
	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
	"github.com/wlkla/iPredict/internal/reminder"
	"github.com/wlkla/iPredict/internal/store"
	"github.com/wlkla/iPredict/internal/theme"
	"github.com/wlkla/iPredict/internal/web"
)

var stdout io.Writer = os.Stdout

func (a *app) predictOptions() predict.Options {
	return predict.Options{DefaultIntervalDays: a.cfg.DefaultIntervalDays}
}

// category resolves an ID or name, or the active category when ref is empty.
func (a *app) category(ref string) (model.Category, error) {
	if ref == "" {
		return a.store.ActiveCategory()
	}
	if c, err := a.store.Category(ref); err == nil {
		return c, nil
	}
	c, ok, err := a.store.CategoryByName(ref)
	if err != nil {
		return model.Category{}, err
	}
	if !ok {
		return model.Category{}, fmt.Errorf("%w: %s", store.ErrCategoryNotFound, ref)
	}
	return c, nil
}

func (a *app) dispatcher(m *metrics.Metrics) (*reminder.Dispatcher, error) {
	rc := a.cfg.Reminder
	notifiers := []reminder.Notifier{reminder.LogNotifier{}}
	if rc.WebhookURL != "" {
		notifiers = append(notifiers, reminder.NewWebhookNotifier(rc.WebhookURL))
	}
	return reminder.NewDispatcher(a.store, reminder.Options{
		Schedule: rc.Schedule,
		Settings: reminder.Settings{Hour: rc.Hour, DaysBefore: rc.DaysBefore},
		Predict:  a.predictOptions(),
		Location: a.loc,
		Metrics:  m,
	}, notifiers...)
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "", "HTTP listen address (overrides config if set)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen != "" {
		a.cfg.Listen = *listen
	}

	themes, err := theme.NewStore(a.store)
	if err != nil {
		return err
	}
	m := metrics.New()

	var disp *reminder.Dispatcher
	if a.cfg.Reminder.Enabled {
		disp, err = a.dispatcher(m)
		if err != nil {
			return err
		}
		if _, err := disp.RunOnce(ctx); err != nil {
			appLog.Error("initial reminder check failed", err)
		}
		if err := disp.Start(ctx); err != nil {
			return err
		}
	}

	srv := web.NewServer(web.Deps{
		Config:    a.cfg,
		Store:     a.store,
		Themes:    themes,
		Metrics:   m,
		Reminders: disp,
	})
	appLog.Info("ipredict starting", "version", version, "listen", a.cfg.Listen, "timezone", a.loc.String())
	return srv.ListenAndServe(ctx, a.cfg.Listen)
}

func runAdd(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	date := fs.String("date", "", "Day to record (YYYY-MM-DD), default today")
	ref := fs.String("category", "", "Category ID or name (default: active)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cat, err := a.category(*ref)
	if err != nil {
		return err
	}
	day := a.store.Today()
	if *date != "" {
		if day, err = a.store.ParseDay(*date); err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
	}
	r, err := a.store.AddRecord(cat.ID, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "recorded %s for %s (%s)\n", r.DateKey(), cat.Name, r.ID)
	return printStatus(a, cat)
}

func runDelete(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	id := fs.String("id", "", "Record ID")
	ref := fs.String("category", "", "Category ID or name (default: active)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}
	cat, err := a.category(*ref)
	if err != nil {
		return err
	}
	r, err := a.store.DeleteRecord(cat.ID, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "deleted %s (%s) from %s\n", r.DateKey(), r.ID, cat.Name)
	return nil
}

func runList(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	ref := fs.String("category", "", "Category ID or name (default: active)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cat, err := a.category(*ref)
	if err != nil {
		return err
	}
	set, err := a.store.History(cat.ID)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		fmt.Fprintf(stdout, "%s has no records\n", cat.Name)
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tINTERVAL\tID")
	for _, r := range set.Records() {
		interval := "-"
		if r.IntervalDays != nil {
			interval = fmt.Sprintf("%dd", *r.IntervalDays)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.DateKey(), interval, r.ID)
	}
	return tw.Flush()
}

func runStatus(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	ref := fs.String("category", "", "Category ID or name (default: active)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cat, err := a.category(*ref)
	if err != nil {
		return err
	}
	return printStatus(a, cat)
}

func printStatus(a *app, cat model.Category) error {
	set, err := a.store.History(cat.ID)
	if err != nil {
		return err
	}
	snap := set.Snapshot(a.store.Today(), a.predictOptions())
	fmt.Fprintln(stdout, formatStatus(cat, snap))
	return nil
}

func formatStatus(cat model.Category, snap predict.Snapshot) string {
	if !snap.HasPrediction() {
		return fmt.Sprintf("%s: no records yet", cat.Name)
	}
	var when string
	switch snap.Phase {
	case predict.PhaseDueToday:
		when = "expected today"
	case predict.PhaseOverdue:
		when = fmt.Sprintf("%d days overdue", snap.DaysLeft())
	default:
		when = fmt.Sprintf("%d days left", snap.DaysRemaining)
	}
	avg := fmt.Sprintf("average %d days", snap.AverageIntervalDays)
	if snap.UsedDefault {
		avg += " (default)"
	}
	return fmt.Sprintf("%s: next %s, %s, %s, %d records",
		cat.Name, snap.PredictedNextDate.Format(model.DateLayout), when, avg, snap.RecordCount)
}

func runExport(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	all := fs.Bool("all", false, "Export every category (CSV only)")
	format := fs.String("format", "csv", "csv or ics")
	out := fs.String("out", "", "Output file (default: stdout)")
	pass := fs.String("passphrase", "", "Encrypt the export with this passphrase")
	ref := fs.String("category", "", "Category ID or name (default: active)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var buf bytes.Buffer
	switch {
	case *format == "ics":
		cat, err := a.category(*ref)
		if err != nil {
			return err
		}
		set, err := a.store.History(cat.ID)
		if err != nil {
			return err
		}
		snap := set.Snapshot(a.store.Today(), a.predictOptions())
		if err := ics.Export(&buf, cat, set, snap, ics.ExportOptions{
			ForecastCount:   a.cfg.ForecastCount,
			AlarmDaysBefore: a.cfg.Reminder.DaysBefore,
			AlarmHour:       a.cfg.Reminder.Hour,
		}); err != nil {
			return err
		}
	case *format != "csv":
		return fmt.Errorf("unknown -format %q", *format)
	case *all:
		if err := exchange.ExportAll(&buf, a.store); err != nil {
			return err
		}
	default:
		cat, err := a.category(*ref)
		if err != nil {
			return err
		}
		if err := exchange.ExportCategory(&buf, a.store, cat.ID); err != nil {
			return err
		}
	}

	data := buf.Bytes()
	if *pass != "" {
		sealed, err := exchange.Seal(*pass, data)
		if err != nil {
			return err
		}
		data = sealed
	}
	if *out == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return err
	}
	appLog.Info("export written", "out", *out, "bytes", len(data), "encrypted", *pass != "")
	return nil
}

func runImport(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	in := fs.String("in", "", "Input file (.csv, .ics or an encrypted export)")
	all := fs.Bool("all", false, "Input is a multi-category CSV")
	pass := fs.String("passphrase", "", "Passphrase of an encrypted export")
	ref := fs.String("category", "", "Category ID or name (default: active)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("-in is required")
	}
	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	if exchange.IsEncrypted(data) {
		if data, err = exchange.Open(*pass, data); err != nil {
			return err
		}
	}

	var res exchange.ImportResult
	switch {
	case strings.EqualFold(filepath.Ext(*in), ".ics"):
		cat, err := a.category(*ref)
		if err != nil {
			return err
		}
		days, err := ics.ParseDays(data, ics.ImportOptions{Location: a.loc, Until: time.Now()})
		if err != nil {
			return err
		}
		res, err = exchange.ImportDays(a.store, cat.ID, days)
		if err != nil {
			return err
		}
	case *all:
		if res, err = exchange.ImportAll(bytes.NewReader(data), a.store); err != nil {
			return err
		}
	default:
		cat, err := a.category(*ref)
		if err != nil {
			return err
		}
		if res, err = exchange.ImportCategory(bytes.NewReader(data), a.store, cat.ID); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "imported %d, duplicates %d, errors %d, new categories %d\n",
		res.Imported, res.Duplicates, res.Errors, res.NewCategories)
	return nil
}

func runCapture(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	url := fs.String("url", "", "Chart URL (default: http://<listen>/chart)")
	out := fs.String("out", a.cfg.Capture.Output, "Output PNG path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		*url = "http://" + a.cfg.Listen + "/chart"
	}
	return capture.CaptureChartPNG(ctx, capture.CaptureOptions{
		URL:        *url,
		OutputPath: *out,
		Width:      a.cfg.Capture.Width,
		Height:     a.cfg.Capture.Height,
	})
}

func runCategory(_ context.Context, a *app, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		cats, err := a.store.Categories()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCOLOR\tACTIVE\tID")
		for _, c := range cats {
			active := ""
			if c.Active {
				active = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Color, active, c.ID)
		}
		return tw.Flush()
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		fs := flag.NewFlagSet("category add", flag.ContinueOnError)
		color := fs.String("color", "", "Colour as #RRGGBB")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("usage: category add NAME [-color #RRGGBB]")
		}
		if _, exists, err := a.store.CategoryByName(fs.Arg(0)); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("category %q already exists", fs.Arg(0))
		}
		c, err := a.store.CreateCategory(fs.Arg(0), *color)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created %s (%s)\n", c.Name, c.ID)
	case "activate", "delete":
		if len(rest) != 1 {
			return fmt.Errorf("usage: category %s NAME", sub)
		}
		c, err := a.category(rest[0])
		if err != nil {
			return err
		}
		if sub == "activate" {
			err = a.store.SetActiveCategory(c.ID)
		} else {
			err = a.store.DeleteCategory(c.ID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%sd %s\n", strings.TrimSuffix(sub, "e"), c.Name)
	default:
		return fmt.Errorf("unknown category command %q", sub)
	}
	return nil
}

func runTheme(_ context.Context, a *app, args []string) error {
	themes, err := theme.NewStore(a.store)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		if _, err := themes.Set(args[0]); err != nil {
			return err
		}
	}
	current, _ := themes.Current()
	for _, name := range theme.PresetNames() {
		marker := " "
		if name == current {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %s\n", marker, name)
	}
	if current == theme.CustomPreset {
		fmt.Fprintf(stdout, "* %s\n", theme.CustomPreset)
	}
	return nil
}

func runReminders(_ context.Context, a *app, _ []string) error {
	d, err := a.dispatcher(nil)
	if err != nil {
		return err
	}
	plan, err := d.Pending()
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		fmt.Fprintln(stdout, "no upcoming reminders")
		return nil
	}
	for _, r := range plan {
		fmt.Fprintf(stdout, "%s  %s\n", r.FireAt.Format("2006-01-02 15:04"), r.Message())
	}
	return nil
}
