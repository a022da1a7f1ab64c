package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdSay commandKind = iota
	cmdJoin
	cmdOlder
	cmdLang
	cmdLike
	cmdReply
	cmdRetry
	cmdOffline
	cmdOnline
	cmdDiscard
	cmdHelp
	cmdQuit
)

// command is one parsed line of input. Index refers to the number shown
// next to a message in the view, starting at 1.
type command struct {
	kind  commandKind
	arg   string
	index int
	text  string
}

const helpText = "/join <room> | /older | /lang <code> | /like <n> | /reply <n> <text> | /retry | /offline | /online | /discard <n> | /quit"

var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

// parseCommand turns an input line into a command. Lines without a leading
// slash are sent as chat text; "//" escapes a literal slash.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errors.New("empty input")
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSay, text: line}, nil
	}
	if strings.HasPrefix(line, "//") {
		return command{kind: cmdSay, text: line[1:]}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "join", "room":
		if rest == "" {
			return command{}, usage("/join <room>")
		}
		return command{kind: cmdJoin, arg: rest}, nil
	case "older", "more":
		return command{kind: cmdOlder}, nil
	case "lang":
		if rest == "" {
			return command{}, usage("/lang <code>")
		}
		return command{kind: cmdLang, arg: strings.ToLower(rest)}, nil
	case "like":
		n, err := parseIndex(rest)
		if err != nil {
			return command{}, usage("/like <n>")
		}
		return command{kind: cmdLike, index: n}, nil
	case "reply":
		idx, text, _ := strings.Cut(rest, " ")
		n, err := parseIndex(idx)
		if err != nil || strings.TrimSpace(text) == "" {
			return command{}, usage("/reply <n> <text>")
		}
		return command{kind: cmdReply, index: n, text: strings.TrimSpace(text)}, nil
	case "retry":
		return command{kind: cmdRetry}, nil
	case "offline":
		return command{kind: cmdOffline}, nil
	case "online":
		return command{kind: cmdOnline}, nil
	case "discard":
		n, err := parseIndex(rest)
		if err != nil {
			return command{}, usage("/discard <n>")
		}
		return command{kind: cmdDiscard, index: n}, nil
	case "help", "?":
		return command{kind: cmdHelp}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command /%s", name)
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("index must be positive")
	}
	return n, nil
}
