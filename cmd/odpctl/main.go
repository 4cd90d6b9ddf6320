package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/veesix-networks/odp/pkg/config"
	"github.com/veesix-networks/odp/pkg/logger"
	"github.com/veesix-networks/odp/pkg/odptext"
	"github.com/veesix-networks/odp/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("odpctl", version.Full())
		return
	}

	ports := odptext.NewPortMap()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger.Configure(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Components)
		for _, p := range cfg.Ports {
			ports.Add(p.Name, p.Number)
		}
	}

	args := flag.Args()
	if len(args) == 0 {
		repl := NewREPL(ports)
		if err := repl.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	out, err := runCommand(ports, args[0], args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}
