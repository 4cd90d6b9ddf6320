package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/veesix-networks/odp/pkg/odptext"
)

type REPL struct {
	ports   *odptext.PortMap
	rl      *readline.Instance
	running bool
}

func NewREPL(ports *odptext.PortMap) *REPL {
	return &REPL{
		ports:   ports,
		running: true,
	}
}

func (r *REPL) Run() error {
	var err error
	r.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "odp> ",
		HistoryFile:     os.ExpandEnv("$HOME/.odpctl_history"),
		AutoComplete:    r.buildCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer r.rl.Close()

	r.printBanner()

	for r.running {
		line, err := r.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if err == io.EOF {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := r.processLine(line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	return nil
}

func (r *REPL) printBanner() {
	fmt.Println("odpctl interactive shell")
	fmt.Println("Type 'help' for available commands")
	fmt.Println("Type 'exit' or 'quit' to exit")
	fmt.Println()
}

func (r *REPL) processLine(line string) error {
	if line == "exit" || line == "quit" {
		r.running = false
		return nil
	}

	fields := strings.SplitN(line, " ", 2)
	name := fields[0]
	var args []string
	if len(fields) == 2 {
		args = strings.Fields(fields[1])
	}

	out, err := runCommand(r.ports, name, args)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (r *REPL) buildCompleter() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("parse-key"),
		readline.PcItem("format-key"),
		readline.PcItem("parse-actions"),
		readline.PcItem("format-actions"),
		readline.PcItem("roundtrip"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
	)
}
