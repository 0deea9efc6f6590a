// Command ingestsink runs a standalone scyllasink.Sink against a
// ScyllaDB/Cassandra cluster, wiring flags to scyllasink.Config and printing
// a periodic metrics snapshot, matching server/main.go's flag + ticker +
// signal-handling shape.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neeharmavuduru/ingestsink/scyllasink"
)

func main() {
	hostname := flag.String("hostname", "127.0.0.1", "ScyllaDB/Cassandra contact point")
	keyspace := flag.String("keyspace", "", "keyspace holding producer_info/producer_lock/producer_period_commit_log/log (required)")
	username := flag.String("username", "", "CQL username, empty for no auth")
	password := flag.String("password", "", "CQL password")
	producerId := flag.Int("producer-id", 0, "producer id, 0-255")
	ifname := flag.String("ifname", "", "network interface to record in the producer lock row, empty selects the host's primary IPv4 interface")
	batchLenLimit := flag.Int("batch-len-limit", scyllasink.DefaultShardMaxBufferCapacity, "flush a shard's buffer once it holds this many events")
	batchSizeKBLimit := flag.Int("batch-size-kb-limit", 128, "flush a shard's buffer once its accumulated size reaches this many KB")
	linger := flag.Duration("linger", 10*time.Millisecond, "max time an event waits in a shard's buffer before a flush is forced")
	metricsInterval := flag.Duration("metrics-interval", 10*time.Second, "interval between metrics snapshot log lines")
	archiveBucket := flag.String("archive-bucket", "", "GCS bucket to mirror flushed batches into; empty disables archiving")
	archivePrefix := flag.String("archive-prefix", "", "object prefix for archived batches")
	flag.Parse()

	if *keyspace == "" {
		log.Fatal("ingestsink: -keyspace is required")
	}
	if *producerId < 0 || *producerId > 255 {
		log.Fatal("ingestsink: -producer-id must be in [0, 255]")
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg := scyllasink.DefaultConfig(scyllasink.ProducerId{byte(*producerId)}, *keyspace)
	cfg.Hostname = *hostname
	cfg.Username = *username
	cfg.Password = *password
	cfg.BatchLenLimit = *batchLenLimit
	cfg.BatchSizeKBLimit = *batchSizeKBLimit
	cfg.Linger = *linger
	cfg.MetricsSampleInterval = *metricsInterval
	if *ifname != "" {
		cfg.Ifname = ifname
	}
	if *archiveBucket != "" {
		archiveCfg := scyllasink.DefaultArchiveConfig(*archiveBucket)
		archiveCfg.ObjectPrefix = *archivePrefix
		cfg.Archive = &archiveCfg
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := scyllasink.New(ctx, cfg)
	if err != nil {
		log.Fatalf("ingestsink: failed to start sink: %v", err)
	}
	log.Printf("ingestsink: started for producer %d against keyspace %q", *producerId, *keyspace)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*metricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := sink.Metrics().Snapshot()
				log.Printf("METRICS: queued=%d batches=%d items=%d avgBatch=%.2f minBatch=%d maxBatch=%d",
					snap.QueuedBatchItems, snap.BatchesSent, snap.BatchItemsSent,
					snap.BatchSizeAvg, snap.BatchSizeMin, snap.BatchSizeMax)
			case <-stop:
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("ingestsink: shutting down")
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := sink.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("ingestsink: shutdown error: %v", err)
	}
	log.Println("ingestsink: shutdown complete")
}
