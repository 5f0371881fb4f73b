/*
main.go - Collection agent entry point

PURPOSE:
  Command-line client for the ledger server. Mirrors what the browser
  frontend does: mutations are applied optimistically to a durable local
  snapshot, queued for at-least-once delivery, and reconciled against the
  authoritative state by polling.

COMMAND-LINE FLAGS:
  -server    Base URL of the ledger server (default http://localhost:8080)
  -config    Path to YAML config file (poll interval, debounce)
  -data      Client database path (default ./agent-data/client.db)
  -operator  Operator name recorded on mutations
  -register  Log N grams collected
  -swap      Swap the cylinder / close the round
  -undo      Reverse the last entry
  -sync      Drain the pending queue and reconcile, then exit
  -watch     Poll and print authoritative changes until interrupted
  -export    Write the history as CSV to the given path

EXAMPLES:
  ./agent -register 350 -operator "Carlos"
  ./agent -swap -operator "Ana"
  ./agent -undo
  ./agent -watch
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/frioserv/gas-ledger/client"
	"github.com/frioserv/gas-ledger/config"
	"github.com/frioserv/gas-ledger/ledger"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "ledger server base URL")
	configPath := flag.String("config", "", "path to YAML config file")
	dataPath := flag.String("data", "./agent-data/client.db", "client database path")
	operator := flag.String("operator", "", "operator name")
	register := flag.Float64("register", 0, "log N grams collected")
	swap := flag.Bool("swap", false, "swap the cylinder")
	undo := flag.Bool("undo", false, "reverse the last entry")
	syncNow := flag.Bool("sync", false, "drain pending queue and reconcile")
	watch := flag.Bool("watch", false, "poll and print authoritative changes")
	export := flag.String("export", "", "write history CSV to path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	local, err := client.OpenLocal(*dataPath)
	if err != nil {
		log.Fatalf("Failed to open client database: %v", err)
	}
	defer local.Close()

	remote := client.NewRemote(*serverURL, local.ClientID())
	queue := client.NewQueue(local, remote)
	queue.DroppedFn = func(op client.Operation) {
		log.Printf("⚠️  operation %s abandoned after %d attempts", op.ID, op.Attempts)
	}
	syncer := client.NewSyncer(remote, local, queue,
		client.WithPollInterval(cfg.PollInterval),
		client.WithDebounce(cfg.Debounce))
	collector := client.NewCollector(syncer, local, queue)
	syncer.OnChange = collector.ApplyRemote

	ctx := context.Background()

	state, err := collector.Load(ctx)
	if err != nil {
		log.Printf("Server unreachable, using local data: %v", err)
	}
	printState(state)

	switch {
	case *register > 0:
		state, err = collector.Register(*register, *operator)
		exitOn(err)
		fmt.Printf("Registered %vg by %s\n", *register, *operator)
		printState(state)
		drain(ctx, queue)

	case *swap:
		state, err = collector.SwapCylinder(*operator)
		exitOn(err)
		fmt.Println("Cylinder swapped")
		printState(state)
		drain(ctx, queue)

	case *undo:
		state, err = collector.Undo()
		exitOn(err)
		fmt.Println("Last entry undone")
		printState(state)
		drain(ctx, queue)

	case *syncNow:
		state, err = syncer.SyncNow(ctx)
		exitOn(err)
		fmt.Println("Synchronized")
		printState(state)

	case *export != "":
		csv := collector.ExportCSV()
		exitOn(os.WriteFile(*export, []byte(csv), 0o644))
		fmt.Printf("History exported to %s\n", *export)

	case *watch:
		runWatch(ctx, syncer, queue)
	}
}

func runWatch(ctx context.Context, syncer *client.Syncer, queue *client.Queue) {
	syncer.OnChange = func(s ledger.State) {
		fmt.Println("--- remote update ---")
		printState(s)
	}
	syncer.OnStatus = func(st client.Status) {
		pending, _ := queue.Pending()
		fmt.Printf("status: %s (pending: %d)\n", st, pending)
	}
	syncer.Start(ctx)
	defer syncer.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func drain(ctx context.Context, queue *client.Queue) {
	if err := queue.Drain(ctx); err != nil {
		log.Printf("Drain failed (will retry next run): %v", err)
	}
	if pending, _ := queue.Pending(); pending > 0 {
		fmt.Printf("Saved locally; %d operation(s) pending sync\n", pending)
	}
}

func printState(s ledger.State) {
	fmt.Printf("Round %d | accumulated %vg / %dg | %d entries\n",
		s.Round, s.Accumulated, ledger.RoundLimit, len(s.History))
}

func exitOn(err error) {
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}
