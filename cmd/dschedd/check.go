package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"dsched/config"
	"dsched/registry"

	"github.com/urfave/cli"
	"go.uber.org/zap"
)

func check(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("check takes exactly one schedule file", 2)
	}
	loc, err := time.LoadLocation(ctx.String("location"))
	if err != nil {
		return err
	}
	entries, err := config.LoadSchedule(ctx.Args().First())
	if err != nil {
		return err
	}

	r := registry.New(zap.NewNop(), registry.WithLocation(loc))
	if err := r.Load(context.Background(), entries); err != nil {
		return err
	}

	visible := r.All()
	if env := ctx.String("env"); env != "" {
		visible = r.List(env)
	}

	now := time.Now().In(loc)
	w := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCADENCE\tCLASS\tQUEUE\tENV\tNEXT")
	for _, e := range visible {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Name, e.Cadence, e.Class, orDash(e.Queue), orDash(strings.Join(e.Environments, ",")),
			e.Spec().Next(now).Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "%d of %d entries ok\n", len(visible), len(entries))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
