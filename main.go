package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"simpin/cmd"
	"simpin/internal/affinity"
	"simpin/internal/config"
	"simpin/internal/procsnap"
	"simpin/internal/rules"
	"simpin/internal/topology"
	"simpin/internal/ui"
	"simpin/internal/watcher"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	opts := cmd.ParseFlags()
	if err := cmd.Validate(opts); err != nil {
		exitWithError(err)
	}

	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		exitWithError(err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Interval > 0 {
		cfg.Interval = opts.Interval
	}

	store, err := rules.Open(cfg.Database)
	if err != nil {
		exitWithError(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		exitWithError(err)
	}

	switch {
	case opts.List:
		err = runList(ctx, store, opts.JSON)
	case opts.Set != "":
		err = runSet(ctx, store, opts.Set, opts.CPUs)
	case opts.Delete != "":
		err = runDelete(ctx, store, opts.Delete)
	case opts.Once:
		err = newWatcher(cfg, store).RunCycle(ctx)
	case opts.Watch:
		err = runWatch(cfg, store)
	default:
		err = runInteractive(ctx, cfg, store)
	}
	if err != nil {
		exitWithError(err)
	}
}

func newWatcher(cfg config.Config, store *rules.Store) *watcher.Watcher {
	return watcher.New(
		watcher.Config{
			Interval:         cfg.Interval,
			FailureThreshold: cfg.FailureThreshold,
			CaseInsensitive:  cfg.CaseInsensitive,
		},
		procsnap.NewSystemSnapshotter(),
		store,
		affinity.NewSystemApplier(),
	)
}

func runList(ctx context.Context, store *rules.Store, asJSON bool) error {
	list, err := store.ListRules(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		type ruleJSON struct {
			Name string `json:"name"`
			CPUs []int  `json:"cpus"`
		}
		out := make([]ruleJSON, 0, len(list))
		for _, rule := range list {
			out = append(out, ruleJSON{Name: rule.Name, CPUs: rule.Mask.CPUs()})
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	ui.PrintRules(list)
	return nil
}

func runSet(ctx context.Context, store *rules.Store, name, cpuList string) error {
	mask, err := affinity.ParseMask(cpuList)
	if err != nil {
		return fmt.Errorf("%w: -cpus %q: %v", cmd.ErrInvalidArguments, cpuList, err)
	}

	online, _ := affinity.NewMask(topology.OnlineCPUs())
	for _, cpu := range mask.CPUs() {
		if !online.Contains(cpu) {
			return fmt.Errorf("%w: CPU %d is not online on this machine (online: %s)",
				cmd.ErrInvalidArguments, cpu, online)
		}
	}

	if err := store.SaveRule(ctx, name, mask); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Rule saved: %s → CPUs %s", name, mask))
	return nil
}

func runDelete(ctx context.Context, store *rules.Store, name string) error {
	if err := store.DeleteRule(ctx, name); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Rule deleted: %s", name))
	return nil
}

func runWatch(cfg config.Config, store *rules.Store) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newWatcher(cfg, store).Run(ctx)
}

func runInteractive(ctx context.Context, cfg config.Config, store *rules.Store) error {
	// Log lines would tear up the TUI, so they go to a file instead.
	logPath := filepath.Join(filepath.Dir(cfg.Database), "simpin.log")
	if logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		defer logFile.Close()
		logrus.SetOutput(logFile)
	}

	cpus := topology.OnlineCPUs()
	if _, err := store.SeedDefault(ctx, cpus); err != nil {
		return err
	}

	w := newWatcher(cfg, store)
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchErr := make(chan error, 1)
	go func() { watchErr <- w.Run(watchCtx) }()

	if err := ui.Run(store, w, cpus); err != nil {
		return err
	}
	cancel()
	return <-watchErr
}

func exitWithError(err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, cmd.ErrInvalidArguments):
		ui.PrintError(err)
		os.Exit(2)
	case errors.Is(err, affinity.ErrPermissionDenied) || errors.Is(err, os.ErrPermission):
		ui.PrintError(errors.New("Permission denied. Try running elevated."))
		os.Exit(5)
	case errors.Is(err, watcher.ErrTooManyFailures) || errors.Is(err, procsnap.ErrSnapshotUnavailable):
		ui.PrintError(err)
		os.Exit(3)
	default:
		ui.PrintError(err)
		os.Exit(1)
	}
}
