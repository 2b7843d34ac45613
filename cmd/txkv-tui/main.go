package main

import (
	"flag"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-txkv/pkg/config"
	"github.com/dd0wney/cluso-txkv/pkg/logging"
	"github.com/dd0wney/cluso-txkv/pkg/shell"
)

func main() {
	dataDir := flag.String("data", "", "Data directory (default ./data/tui)")
	configFile := flag.String("config", "", "YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	switch {
	case *dataDir != "":
		cfg.DataDir = *dataDir
	case cfg.DataDir == "":
		cfg.DataDir = "./data/tui"
	}

	// The alternate screen owns the terminal, so logs are dropped
	db, err := cfg.Open(logging.NewNopLogger())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	session := shell.NewSession(db, cfg.TransactionOptions())
	defer session.Close()

	p := tea.NewProgram(initialModel(db, session), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}
