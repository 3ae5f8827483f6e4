// Command casgc runs reference-counted garbage collection over a chunk
// store, removing chunks no longer referenced by any manifest retained
// under -manifests. By default it runs once and exits; -watch runs it
// as a loop instead, exposing sweep metrics over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pravinbhuari/archivestream/daemon/service"
	"github.com/pravinbhuari/archivestream/internal/chunkstore"
	"github.com/pravinbhuari/archivestream/internal/observability"
	"github.com/pravinbhuari/archivestream/internal/validation"
)

func main() {
	path := flag.String("db", "cas.db", "path to the BoltDB chunk store")
	manifestDir := flag.String("manifests", "manifests", "directory of retained manifest JSON files")
	watch := flag.Duration("watch", 0, "run as a loop, sweeping every this often (0 runs once and exits)")
	metricsAddr := flag.String("metrics-addr", ":9091", "address to serve Prometheus metrics on when -watch is set")
	flag.Parse()

	sink, err := chunkstore.OpenBoltSink(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open chunk store: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	if *watch <= 0 {
		runOnce(sink, *manifestDir)
		return
	}

	if err := validation.ValidateAddr(*metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -metrics-addr: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, "casgc")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init tracing: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	metrics := observability.NewMetrics()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()

	stop, errs := service.StartChunkGCLoop(ctx, sink, *manifestDir, *watch, metrics)
	defer stop()

	fmt.Printf("watching %s every %s, manifests in %s, metrics on %s\n", *path, *watch, *manifestDir, *metricsAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			fmt.Fprintf(os.Stderr, "gc sweep: %v\n", err)
		}
	}
}

func runOnce(sink *chunkstore.BoltSink, manifestDir string) {
	live, err := service.CollectLiveChunkIDs(manifestDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collect live chunk ids: %v\n", err)
		os.Exit(1)
	}

	removed, err := sink.GC(live)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("chunk store GC removed %d chunks; %d chunk ids remain referenced\n", removed, len(live))
}
