package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

func runSecret(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: jarvis secret set|get|delete <name> | list")
	}
	a, err := newApp(stderr, opts, nil)
	if err != nil {
		return err
	}
	store, err := a.secrets()
	if err != nil {
		return err
	}

	name := ""
	if len(args) > 1 {
		name = args[1]
	}
	needName := func() error {
		if name == "" {
			return fmt.Errorf("usage: jarvis secret %s <name>", args[0])
		}
		return nil
	}

	switch args[0] {
	case "set":
		if err := needName(); err != nil {
			return err
		}
		value := strings.Join(args[2:], " ")
		if value == "" {
			line, err := bufio.NewReader(opts.stdin).ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("read value: %w", err)
			}
			value = strings.TrimSpace(line)
		}
		if value == "" {
			return fmt.Errorf("no value given for %s", name)
		}
		if err := store.Set(name, value); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Stored %s\n", name)
		return nil

	case "get":
		if err := needName(); err != nil {
			return err
		}
		v, err := store.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, v)
		return nil

	case "delete":
		if err := needName(); err != nil {
			return err
		}
		if err := store.Delete(name); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Deleted %s\n", name)
		return nil

	case "list":
		names, err := store.List()
		if err != nil {
			return err
		}
		if opts.output == "json" {
			return writeJSON(stdout, names)
		}
		for _, n := range names {
			fmt.Fprintln(stdout, n)
		}
		return nil
	}
	return fmt.Errorf("unknown secret command: %s", args[0])
}
