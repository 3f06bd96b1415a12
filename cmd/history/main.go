package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"aicycles.ai/internal/persistence/indexdb"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dbPath    = fs.String("db", "", "SQLite match history written by the bot")
		n         = fs.Int("n", 10, "number of recent matches to list")
		standings = fs.Bool("standings", true, "print per-name standings")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dbPath == "" {
		fmt.Fprintln(stderr, "missing -db")
		return 2
	}
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintln(stderr, "history:", err)
		return 1
	}

	idx, err := indexdb.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(stderr, "history:", err)
		return 1
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	recent, err := idx.Recent(ctx, *n)
	if err != nil {
		fmt.Fprintln(stderr, "history:", err)
		return 1
	}
	printRecent(stdout, recent, time.Now())

	if *standings {
		st, err := idx.Standings(ctx)
		if err != nil {
			fmt.Fprintln(stderr, "history:", err)
			return 1
		}
		printStandings(stdout, st)
	}
	return 0
}

func printRecent(out io.Writer, ms []indexdb.MatchRecord, now time.Time) {
	if len(ms) == 0 {
		fmt.Fprintln(out, "no matches recorded")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDED\tNAME\tARENA\tTICKS\tTRAIL\tRESULT\tREASON")
	for _, m := range ms {
		trail, result := "-", "-"
		for _, o := range m.Outcomes {
			if !o.Local {
				continue
			}
			trail = humanize.Comma(int64(o.Trail))
			switch {
			case o.Won:
				result = "won"
			case o.Alive:
				result = "survived"
			case o.DeathOrder > 0:
				result = humanize.Ordinal(o.DeathOrder) + " out"
			default:
				result = "left"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%dx%d/%d\t%s\t%s\t%s\t%s\n",
			humanize.RelTime(m.EndedAt, now, "ago", "from now"), m.Name, m.Width, m.Height, m.Players,
			humanize.Comma(int64(m.Ticks)), trail, result, m.Reason)
	}
	_ = tw.Flush()
}

func printStandings(out io.Writer, st []indexdb.Standing) {
	if len(st) == 0 {
		return
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMATCHES\tPOINTS\tWINS\tTRAIL\tBEST")
	for _, s := range st {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%d\n", s.Name, s.Matches, s.Points, s.Wins, humanize.Comma(int64(s.Trail)), s.BestTrail)
	}
	_ = tw.Flush()
}
