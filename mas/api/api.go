// Metadata API: scene index service backed by Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/nci/composite/mas"
	"github.com/nci/composite/utils"
)

var (
	dbName   = flag.String("database", "mas", "database name")
	dbUser   = flag.String("user", "api", "database user name")
	dbHost   = flag.String("host", "/var/run/postgresql", "database host or socket directory")
	dbPool   = flag.Int("pool", 8, "database pool size")
	dbLimit  = flag.Int("limit", 64, "database concurrent requests")
	httpPort = flag.Int("port", 8080, "http port")
	mcURI    = flag.String("memcache", "", "memcache uri host:port")
	verbose  = flag.Bool("v", false, "verbose logging")
)

func main() {
	flag.Parse()

	logger, err := utils.NewLogger(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	log.Infow("starting MAS", "user", *dbUser, "database", *dbName, "pool", *dbPool, "port", *httpPort)

	dbinfo := fmt.Sprintf("user=%s host=%s dbname=%s sslmode=disable", *dbUser, *dbHost, *dbName)
	index, err := mas.OpenPGIndex(context.Background(), dbinfo, *dbPool, *dbLimit)
	if err != nil {
		log.Fatalw("failed to open index", "error", err)
	}
	defer index.Close()

	var cache mas.Cache
	if *mcURI != "" {
		cache = mas.NewMemcacheCache(*mcURI)
	}

	http.Handle("/", mas.NewServer(index, cache, log))
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *httpPort), nil); err != nil {
		log.Fatalw("server stopped", "error", err)
	}
}
