// Command mnemo-queue drains the capture wrapper's on-disk queue
// directory into a running mnemod instance, either once or on a
// continuous interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mnemo/internal/ingestqueue"
	"mnemo/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mnemo-queue: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	queueDir := flag.String("queue-dir", defaultQueueDir(), "directory holding conversation_*.json queue files")
	endpoint := flag.String("endpoint", "http://localhost:8420", "base URL of a running mnemod instance")
	continuous := flag.Bool("continuous", false, "keep draining on --interval until interrupted")
	interval := flag.Duration("interval", 60*time.Second, "drain interval in continuous mode")
	flag.Parse()

	log := logging.New("info", os.Stdout)
	d := ingestqueue.New(*queueDir, *endpoint, log)

	if !*continuous {
		result, err := d.DrainOnce(context.Background())
		if err != nil {
			return err
		}
		log.Info().Int("succeeded", result.Succeeded).Int("failed", result.Failed).Msg("mnemo-queue: drain complete")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	log.Info().Dur("interval", *interval).Msg("mnemo-queue: running continuously")
	d.Run(ctx, *interval)
	return nil
}

func defaultQueueDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude_memory/queue"
	}
	return home + "/.claude_memory/queue"
}
