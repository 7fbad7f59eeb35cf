package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nugget/jarvis-core/internal/history"
)

func runHistory(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: jarvis history show|export [file]|clear|auth")
	}
	a, err := newApp(stderr, opts, nil)
	if err != nil {
		return err
	}

	if args[0] == "auth" {
		auth := history.DriveAuthFor(a.settings, a.cfg.DataDir, a.logger)
		return auth.Authorize(ctx, stdout)
	}

	rec, err := a.historyRecorder(ctx)
	if err != nil {
		return err
	}

	switch args[0] {
	case "show":
		entries, err := rec.Store().Load(ctx)
		if err != nil {
			return err
		}
		if opts.output == "json" {
			if entries == nil {
				entries = []history.Entry{}
			}
			return writeJSON(stdout, entries)
		}
		if len(entries) == 0 {
			fmt.Fprintf(stdout, "No history (%s storage).\n", rec.Store().Backend())
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(stdout, "[%s] %s: %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Sender, e.Message)
		}
		return nil

	case "export":
		entries, err := rec.Store().Load(ctx)
		if err != nil {
			return err
		}
		w := stdout
		if len(args) > 1 && args[1] != "-" {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := history.ExportHTML(w, "Jarvis conversation", entries); err != nil {
			return err
		}
		if w != stdout {
			fmt.Fprintf(stdout, "Exported %d messages to %s\n", len(entries), args[1])
		}
		return nil

	case "clear":
		if err := rec.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "History cleared (%s storage).\n", rec.Store().Backend())
		return nil
	}
	return fmt.Errorf("unknown history command: %s", args[0])
}
