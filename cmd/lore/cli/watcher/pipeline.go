package watcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/varalys/lore/cmd/lore/cli/store"
)

// ImportOptions controls an import run.
type ImportOptions struct {
	// Force re-imports sources whose path is already in the store.
	Force bool
	// DryRun walks the pipeline without writing anything.
	DryRun bool
	// Only restricts the run to a single watcher name.
	Only string
	// Enabled filters watchers by name; nil means all. Callers pass the
	// config's watcher toggles here.
	Enabled func(name string) bool
	// MachineID is stamped onto sessions that don't carry one.
	MachineID string
}

// WatcherResult tallies one watcher's portion of an import run.
type WatcherResult struct {
	Watcher  string `json:"watcher"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Errors   int    `json:"errors"`
}

// ImportResult tallies a whole import run.
type ImportResult struct {
	Watchers []WatcherResult `json:"watchers"`
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
	Errors   int             `json:"errors"`
}

// Import walks every available watcher, parses its sources, and writes new
// sessions to the store. A failing source is logged and counted, never
// fatal; a store write error aborts the run. Cancellation is honored
// between sources, so a partially parsed source is either fully written or
// not at all.
func Import(ctx context.Context, st *store.Store, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	for _, w := range Available() {
		name := w.Info().Name
		if opts.Only != "" && opts.Only != name {
			continue
		}
		if opts.Enabled != nil && !opts.Enabled(name) {
			slog.Debug("watcher disabled in config", "watcher", name)
			continue
		}

		wr, err := importWatcher(ctx, st, w, opts)
		if err != nil {
			return result, fmt.Errorf("importing from %s: %w", name, err)
		}
		result.Watchers = append(result.Watchers, *wr)
		result.Imported += wr.Imported
		result.Skipped += wr.Skipped
		result.Errors += wr.Errors
	}
	return result, nil
}

func importWatcher(ctx context.Context, st *store.Store, w Watcher, opts ImportOptions) (*WatcherResult, error) {
	name := w.Info().Name
	wr := &WatcherResult{Watcher: name}

	sources, err := w.FindSources()
	if err != nil {
		slog.Debug("source discovery failed", "watcher", name, "error", err)
		wr.Errors++
		return wr, nil
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return wr, err
		}

		if !opts.Force {
			exists, err := st.SessionExistsBySource(source)
			if err != nil {
				return wr, err
			}
			if exists {
				wr.Skipped++
				continue
			}
		}

		parsed, err := w.ParseSource(source)
		if err != nil {
			slog.Debug("parse failed", "watcher", name, "source", source, "error", err)
			wr.Errors++
			continue
		}

		for _, ps := range parsed {
			// Empty message lists mean "skip this source": metadata-only
			// files are not sessions yet.
			if len(ps.Messages) == 0 {
				wr.Skipped++
				continue
			}
			if opts.DryRun {
				wr.Imported++
				continue
			}
			if err := importSession(st, ps, opts.MachineID); err != nil {
				return wr, err
			}
			wr.Imported++
		}
	}
	return wr, nil
}

func importSession(st *store.Store, ps ParsedSession, machineID string) error {
	if ps.Session.MachineID == "" {
		ps.Session.MachineID = machineID
	}
	if ps.Session.WorkingDirectory == "" {
		ps.Session.WorkingDirectory = "."
	}
	return st.ImportSessionWithMessages(&ps.Session, ps.Messages, nil)
}

// ImportSource parses a single source with one watcher and writes the
// result. The daemon uses this for incremental re-import on file change;
// Force semantics apply because the source usually exists already.
func ImportSource(st *store.Store, w Watcher, source, machineID string) error {
	parsed, err := w.ParseSource(source)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", source, err)
	}
	for _, ps := range parsed {
		if len(ps.Messages) == 0 {
			continue
		}
		if err := importSession(st, ps, machineID); err != nil {
			return err
		}
	}
	return nil
}
