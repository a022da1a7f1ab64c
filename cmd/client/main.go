package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Jason198341/seatcon-sub001/internal/config"
)

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(tea.Model, ...tea.ProgramOption) programRunner

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, newProgram programFactory) error {
	fs := flag.NewFlagSet("seatcon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	roomID := fs.String("room", "", "room to enter on start")
	envFile := fs.String("env", "", "dotenv file to load instead of ./.env")
	startOffline := fs.Bool("offline", false, "start offline and queue outgoing messages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var dotenv []string
	if *envFile != "" {
		dotenv = append(dotenv, *envFile)
	}
	cfg, err := config.LoadClient(dotenv...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	dir, err := dataDir(cfg)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	logger, err := newLogger(dir)
	if err != nil {
		return err
	}
	cfg.DataDir = dir

	sess, err := openSession(cfg, *startOffline, logger)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	defer sess.Close()

	name := cfg.UserName
	if name == "" {
		name = cfg.UserID
	}
	m := newChatModel(sess.coord, cfg.UserID, name, *roomID, 0, 0)

	if newProgram == nil {
		newProgram = func(model tea.Model, options ...tea.ProgramOption) programRunner {
			return tea.NewProgram(model, options...)
		}
	}
	p := newProgram(m, tea.WithAltScreen(), tea.WithInput(stdin), tea.WithOutput(stdout))
	_, err = p.Run()
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
