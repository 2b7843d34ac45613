package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-txkv/pkg/config"
	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/shell"
	"github.com/dd0wney/cluso-txkv/pkg/txdb"
)

type CLI struct {
	db      *txdb.DB
	session *shell.Session
	scanner *bufio.Scanner
	out     io.Writer
}

func main() {
	dataDir := flag.String("data", "", "Data directory (overrides the config file)")
	configFile := flag.String("config", "", "YAML configuration file")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.Parse()

	cfg, err := loadConfig(*configFile, *dataDir, *metricsAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	printBanner()

	location := cfg.DataDir
	if location == "" {
		location = "(in memory)"
	}
	fmt.Printf("📂 Opening database at %s...\n", location)
	db, err := cfg.Open(logger)
	if err != nil {
		fmt.Printf("❌ Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	stats := db.Stats()
	fmt.Printf("✅ Database loaded\n")
	fmt.Printf("   Column families: %s\n", strings.Join(db.ColumnFamilies(), ", "))
	fmt.Printf("   Latest sequence: %d\n\n", stats.LatestSequence)

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, db, logger)
	}

	cli := &CLI{
		db:      db,
		session: shell.NewSession(db, cfg.TransactionOptions()),
		scanner: bufio.NewScanner(os.Stdin),
		out:     os.Stdout,
	}
	defer cli.session.Close()

	fmt.Println("Type 'HELP' for available commands, 'EXIT' to quit")
	fmt.Println()

	if err := cli.run(); err != nil {
		logger.Error("input error", logging.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path, dataDir, metricsAddr string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	return cfg, cfg.Validate()
}

func serveMetrics(addr string, db *txdb.DB, logger logging.Logger) {
	reg := db.Metrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		db.Metrics()
		promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
	}))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", logging.String("addr", addr), logging.Error(err))
		}
	}()
	fmt.Printf("📈 Metrics on http://%s/metrics\n\n", addr)
}

func printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║              txkv  transactional key-value shell          ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
}

func (cli *CLI) run() error {
	for {
		fmt.Fprint(cli.out, cli.session.Prompt())

		if !cli.scanner.Scan() {
			fmt.Fprintln(cli.out)
			return cli.scanner.Err()
		}

		input := strings.TrimSpace(cli.scanner.Text())
		if input == "" {
			continue
		}

		res, err := cli.session.Exec(input)
		if err != nil {
			fmt.Fprintln(cli.out, "ERR:", err)
			continue
		}
		fmt.Fprint(cli.out, res.String())
		if res.Exit {
			return nil
		}
	}
}
