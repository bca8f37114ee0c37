package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	"pathsched/internal/lifecycle"
	"pathsched/internal/rpc"
	"pathsched/internal/schedule"
)

var setupFlags = []cli.Flag{
	cli.IntFlag{Name: "cost, c", Usage: "cost attribute: 1 igp, 2 te (default te)"},
	cli.Float64Flag{Name: "bandwidth, b", Usage: "bandwidth constraint in bps"},
	cli.StringFlag{Name: "daily, d", Usage: "repeat every day at HH:MM; with --weekly or --monthly, the time of day"},
	cli.IntFlag{Name: "weekly, w", Usage: "repeat every week on ISO weekday 1..7"},
	cli.IntFlag{Name: "monthly, m", Usage: "repeat every month on day 1..31"},
	cli.StringFlag{Name: "once, o", Usage: "fire once at HH:MM"},
	cli.StringFlag{Name: "at", Usage: "time of day for weekly and monthly, HH:MM"},
}

var queryFlags = []cli.Flag{
	cli.StringFlag{Name: "id", Usage: "source/name or tunnel id"},
}

func dial(c *cli.Context) *rpc.Client {
	return rpc.Dial(c.GlobalString("rpc"), c.GlobalString("token"), c.GlobalDuration("timeout"))
}

// setupArgs parses "src dst type name startdate duration".
func setupArgs(c *cli.Context) (lifecycle.SetupRequest, error) {
	args := c.Args()
	if len(args) != 6 {
		return lifecycle.SetupRequest{}, fmt.Errorf("expected 6 arguments (src dst type name startdate duration), got %d", len(args))
	}
	mode, err := strconv.Atoi(args[2])
	if err != nil {
		return lifecycle.SetupRequest{}, fmt.Errorf("type: %q is not a number", args[2])
	}
	duration, err := strconv.Atoi(args[5])
	if err != nil {
		return lifecycle.SetupRequest{}, fmt.Errorf("duration: %q is not a number", args[5])
	}
	return lifecycle.SetupRequest{
		Source:          args[0],
		Destination:     args[1],
		Mode:            mode,
		Name:            args[3],
		StartDate:       args[4],
		DurationMinutes: duration,
		Cost:            c.Int("cost"),
		Bandwidth:       c.Float64("bandwidth"),
		Daily:           c.String("daily"),
		Weekly:          c.Int("weekly"),
		Monthly:         c.Int("monthly"),
		Once:            c.String("once"),
		At:              c.String("at"),
	}, nil
}

func setup(c *cli.Context) error {
	req, err := setupArgs(c)
	if err != nil {
		return cli.NewExitError("setup: "+err.Error(), 2)
	}

	client := dial(c)
	defer client.Close()
	res, err := client.Setup(context.Background(), req)
	if err != nil {
		if rpc.IsInvalid(err) {
			return cli.NewExitError("setup rejected: "+err.Error(), 2)
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "scheduled %s, first setup at %s\n", res.Key, res.NextFire.Format("2006-01-02 15:04 MST"))
	return nil
}

func query(c *cli.Context) error {
	client := dial(c)
	defer client.Close()
	id := c.String("id")
	if id == "" {
		id = c.Args().First()
	}
	paths, err := client.Query(context.Background(), id)
	if err != nil {
		if rpc.IsNotFound(err) {
			fmt.Fprintln(c.App.Writer, "Path does not exist.")
			return nil
		}
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(c.App.Writer, "No scheduled paths.")
		return nil
	}
	for _, p := range paths {
		display(c.App.Writer, p)
	}
	return nil
}

func cancel(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.NewExitError("cancel: missing path id", 2)
	}
	client := dial(c)
	defer client.Close()
	found, err := client.Cancel(context.Background(), id)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(c.App.Writer, "Path does not exist.")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "cancelled %s\n", id)
	return nil
}

func failed(c *cli.Context) error {
	client := dial(c)
	defer client.Close()
	res, err := client.Failed(context.Background())
	if err != nil {
		return err
	}
	if len(res.Paths) == 0 {
		fmt.Fprintln(c.App.Writer, "No failed paths.")
		return nil
	}
	for _, f := range res.Paths {
		fmt.Fprintf(c.App.Writer, "%-24s %-10s tunnel=%s at=%s reason=%s\n",
			f.PathRequest.Key(), f.Phase, f.TunnelID, f.FailedAt.Format("2006-01-02 15:04:05"), f.Reason)
	}
	return nil
}

// display prints one scheduled path in the operator's query format.
func display(w io.Writer, p lifecycle.PathStatus) {
	fmt.Fprintf(w, "\nkey                : %s \n", p.Key)
	fmt.Fprintf(w, "startDate          : %s \n", p.StartDate)
	fmt.Fprintf(w, "lspStatus          : %s\n", p.LspStatus())
	fmt.Fprintf(w, "lsp duration       : %d \n", p.DurationMinutes)
	fmt.Fprintf(w, "repeat Pattern     : %s \n", p.Rule.Pattern)

	switch p.Rule.Pattern {
	case schedule.PatternOnce, schedule.PatternDaily:
		fmt.Fprintf(w, "time               : %s \n", p.Rule.Time)
	case schedule.PatternWeekly:
		fmt.Fprintf(w, "day of week        : %s \n", strings.ToUpper(schedule.ISOWeekday(p.Rule.Weekday).String()))
	case schedule.PatternMonthly:
		fmt.Fprintf(w, "repeat date        : %d \n", p.Rule.Day)
	}
	if !p.NextFire.IsZero() {
		fmt.Fprintf(w, "next fire          : %s \n", p.NextFire.Format("2006-01-02 15:04 MST"))
	}
	if p.LastError != "" {
		fmt.Fprintf(w, "last error         : %s (failures: %d)\n", p.LastError, p.Failures)
	}
}
