package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/composite/export"
	"github.com/nci/composite/utils"
	"google.golang.org/grpc"
)

func main() {
	port := flag.Int("p", 6000, "gRPC server listening port.")
	poolSize := flag.Int("n", 4, "Number of export workers.")
	outputDir := flag.String("output", "exports", "Directory receiving exported images.")
	ledgerPath := flag.String("ledger", "", "Task ledger database, defaults to <output>/ledger.db")
	quicklook := flag.Bool("quicklook", true, "Write a PNG quicklook next to each image.")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	logger, err := utils.NewLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalw("failed to create output directory", "error", err)
	}
	if len(*ledgerPath) == 0 {
		*ledgerPath = filepath.Join(*outputDir, "ledger.db")
	}

	ledger, err := export.OpenLedger(*ledgerPath, log)
	if err != nil {
		log.Fatalw("failed to open ledger", "error", err)
	}
	writer, err := export.NewWriter(*outputDir, *quicklook)
	if err != nil {
		log.Fatalw("failed to create writer", "error", err)
	}
	pool := export.CreatePool(*poolSize, writer, ledger, log)

	s := grpc.NewServer()
	export.RegisterBatchExportServer(s, &export.Server{Pool: pool, Ledger: ledger, Logger: log})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-signals
		log.Infow("shutting down")
		s.GracefulStop()
	}()

	lis, err := reuseport.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatalw("failed to listen", "error", err)
	}
	log.Infow("export service listening", "port", *port, "workers", *poolSize, "output", *outputDir)

	if err := s.Serve(lis); err != nil {
		log.Errorw("failed to serve", "error", err)
	}

	pool.Close()
	ledger.Close()
}
