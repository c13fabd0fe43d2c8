package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/jobtrack/cmd/jobtrackctl/cli"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: jobtrackctl [flags] <command>

commands:
  stats              show queue sizes
  archived           list dead audit retries
  trigger <task>     enqueue payment:cheque.scan or maintenance:idempotency.purge

flags:`)
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()

	redisAddr := flag.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	window := flag.Int("window", 7, "cheque scan window in days")
	retention := flag.Duration("retention", 720*time.Hour, "idempotency key retention")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	c, err := cli.NewJobsCLI(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()
	c.ChequeWindowDays = *window
	c.Retention = *retention

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, c, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.JobsCLI, args []string) error {
	switch args[0] {
	case "stats":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return tw.Flush()
	case "archived":
		tasks, err := c.ListArchived(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s\t%s\t%s\n", t.ID, t.Type, t.LastErr)
		}
		return nil
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("trigger: task name required")
		}
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
