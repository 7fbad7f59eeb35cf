package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nugget/jarvis-core/internal/download"
	"github.com/nugget/jarvis-core/internal/ledger"
	"github.com/nugget/jarvis-core/internal/llm"
	"github.com/nugget/jarvis-core/internal/resource"
)

// modelStatus is the -o json shape of `jarvis model status`.
type modelStatus struct {
	Artifact resource.Artifact `json:"artifact"`
	ModelDir string            `json:"model_dir"`
	Last     *lastAcquisition  `json:"last_acquisition,omitempty"`
}

type lastAcquisition struct {
	Outcome string    `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
	Bytes   int64     `json:"bytes"`
	At      time.Time `json:"at"`
}

func runModelStatus(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	a, err := newApp(stderr, opts, nil)
	if err != nil {
		return err
	}
	st := modelStatus{
		Artifact: a.resolver.Status(a.settings, a.env),
		ModelDir: a.resolver.ModelDir(a.env),
	}

	// The ledger is informational; status works without it.
	if l, err := a.openLedger(); err == nil {
		defer l.Close()
		if e, err := l.Last(st.Artifact.Variant); err == nil && e != nil && st.Artifact.Variant != "" {
			st.Last = &lastAcquisition{Outcome: e.Outcome, Reason: e.Reason, Bytes: e.Bytes, At: e.At}
		}
	} else {
		a.logger.Debug("acquisition ledger unavailable", "error", err)
	}

	if opts.output == "json" {
		return writeJSON(stdout, st)
	}
	printArtifact(stdout, st.Artifact)
	fmt.Fprintf(stdout, "  %-10s %s\n", "model dir:", st.ModelDir)
	if st.Last != nil {
		fmt.Fprintf(stdout, "  %-10s %s %s (%s)\n", "last try:", st.Last.Outcome, humanize.Time(st.Last.At), humanize.IBytes(uint64(st.Last.Bytes)))
		if st.Last.Reason != "" {
			fmt.Fprintf(stdout, "  %-10s %s\n", "", st.Last.Reason)
		}
	}
	return nil
}

func printArtifact(w io.Writer, art resource.Artifact) {
	fmt.Fprintf(w, "Model: %s\n", art.Status)
	fmt.Fprintf(w, "  %-10s %s\n", "path:", art.Path)
	fmt.Fprintf(w, "  %-10s %s\n", "source:", art.Source)
	if art.Variant != "" {
		fmt.Fprintf(w, "  %-10s %s\n", "variant:", art.Variant)
	}
	if art.Reason != "" {
		fmt.Fprintf(w, "  %-10s %s\n", "reason:", art.Reason)
	}
}

// runModelFetch makes sure the model is on disk, downloading it when
// missing, and checks that it is a GGUF file.
func runModelFetch(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	progress := download.NewProgressPrinter(stderr, "model")
	a, err := newApp(stderr, opts, progress.Update)
	if err != nil {
		return err
	}

	var l *ledger.Ledger
	if l, err = a.openLedger(); err == nil {
		defer l.Close()
		recCtx, stop := context.WithCancel(ctx)
		wait := l.Start(recCtx, a.bus, a.logger)
		defer wait()
		defer stop()
	} else {
		a.logger.Warn("acquisition ledger unavailable", "error", err)
	}

	model, err := llm.NewLoader(a.resolver, a.logger).Load(ctx, a.settings, a.env)
	progress.Done()
	if err != nil {
		return err
	}

	if opts.output == "json" {
		return writeJSON(stdout, map[string]any{
			"path":         model.Path,
			"variant":      model.Variant,
			"source":       model.Source,
			"size":         model.Size,
			"gguf_version": model.GGUFVersion,
			"gpu_layers":   model.Options.GPULayers,
			"threads":      model.Options.Threads,
			"mlock":        model.Options.UseMlock,
		})
	}
	fmt.Fprintf(stdout, "Model ready: %s\n", model.Path)
	fmt.Fprintf(stdout, "  %-10s %s\n", "source:", model.Source)
	if model.Variant != "" {
		fmt.Fprintf(stdout, "  %-10s %s\n", "variant:", model.Variant)
	}
	fmt.Fprintf(stdout, "  %-10s %s (GGUF v%d)\n", "size:", humanize.IBytes(uint64(model.Size)), model.GGUFVersion)
	fmt.Fprintf(stdout, "  %-10s gpu_layers=%d threads=%d mlock=%v\n", "runtime:", model.Options.GPULayers, model.Options.Threads, model.Options.UseMlock)
	return nil
}
