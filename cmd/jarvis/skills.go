package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

func runSkills(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	a, err := newApp(stderr, opts, nil)
	if err != nil {
		return err
	}
	reg, err := a.skillRegistry()
	if err != nil {
		return err
	}
	if opts.output == "json" {
		return writeJSON(stdout, reg.List())
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, s := range reg.List() {
		fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Description)
	}
	return tw.Flush()
}

func runSkill(ctx context.Context, stdout, stderr io.Writer, opts options, name, argsJSON string) error {
	a, err := newApp(stderr, opts, nil)
	if err != nil {
		return err
	}
	reg, err := a.skillRegistry()
	if err != nil {
		return err
	}
	out, err := reg.Execute(ctx, name, argsJSON)
	if err != nil {
		return err
	}
	if opts.output == "json" {
		return writeJSON(stdout, map[string]string{"skill": name, "result": out})
	}
	fmt.Fprintln(stdout, out)
	return nil
}
