package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/miradorstack/mirador-modelwatch/internal/api"
	"github.com/miradorstack/mirador-modelwatch/internal/catalog"
	"github.com/miradorstack/mirador-modelwatch/internal/simulation"
)

type ingestReply struct {
	AlertCreated        bool `json:"alert_created"`
	DuplicateSuppressed bool `json:"duplicate_suppressed"`
	Alert               *struct {
		ID       string `json:"id"`
		Severity string `json:"severity"`
	} `json:"alert,omitempty"`
}

func main() {
	var (
		target   string
		interval time.Duration
		count    int
		seed     uint64
	)
	flag.StringVar(&target, "target", "localhost:50051", "modelwatch gRPC address")
	flag.DurationVar(&interval, "interval", 250*time.Millisecond, "delay between observations")
	flag.IntVar(&count, "count", 0, "number of observations to send; 0 runs until interrupted")
	flag.Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "sampler seed")
	flag.Parse()

	logger := log.New(log.Writer(), "loadgen ", log.LstdFlags|log.Lmicroseconds)

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatalf("dial %s: %v", target, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = metadata.AppendToOutgoingContext(ctx,
		api.MetadataUserID, "loadgen",
		api.MetadataUserName, "loadgen",
		api.MetadataUserRole, "operator",
	)

	sampler := simulation.NewSampler(seed)
	catalogue := catalog.Defaults(time.Now())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent, alerts, duplicates, failures int
loop:
	for count == 0 || sent < count {
		select {
		case <-ctx.Done():
			logger.Printf("interrupted after %d observations", sent)
			break loop
		case <-ticker.C:
		}

		req, ok := sampler.Next(catalogue)
		if !ok {
			logger.Fatal("empty catalogue")
		}
		req.SourceSystem = "loadgen"

		var reply ingestReply
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := api.Invoke(callCtx, conn, "IngestMetric", req, &reply)
		cancel()
		sent++
		if err != nil {
			failures++
			logger.Printf("ingest %s/%s failed: %v", req.ModelID, req.MetricType, err)
			continue
		}
		switch {
		case reply.AlertCreated:
			alerts++
			logger.Printf("alert %s (%s) opened for %s %s=%v", reply.Alert.ID, reply.Alert.Severity, req.ModelID, req.MetricType, *req.Value)
		case reply.DuplicateSuppressed:
			duplicates++
		}
	}

	logger.Printf("sent=%d alerts=%d duplicates=%d failures=%d", sent, alerts, duplicates, failures)
}
