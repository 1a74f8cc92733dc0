package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/petsphoto/pawgen/internal/api"
	"github.com/petsphoto/pawgen/internal/auth"
	"github.com/petsphoto/pawgen/internal/image"
	"github.com/petsphoto/pawgen/internal/poll"
	"github.com/petsphoto/pawgen/internal/store"
)

// Shell is the interactive mode: a line-oriented loop over the same
// client operations the one-shot commands expose.
type Shell struct {
	in      *bufio.Scanner
	out     io.Writer
	err     io.Writer
	api     *api.Client
	session *auth.Manager
	poller  *poll.Poller
	saver   *image.Saver
	store   *store.Store

	commands map[string]Command
	running  bool
}

type Config struct {
	In      io.Reader
	Out     io.Writer
	Err     io.Writer
	API     *api.Client
	Session *auth.Manager
	Poller  *poll.Poller
	Saver   *image.Saver
	Store   *store.Store
}

func New(cfg *Config) *Shell {
	s := &Shell{
		in:       bufio.NewScanner(cfg.In),
		out:      cfg.Out,
		err:      cfg.Err,
		api:      cfg.API,
		session:  cfg.Session,
		poller:   cfg.Poller,
		saver:    cfg.Saver,
		store:    cfg.Store,
		commands: make(map[string]Command),
	}
	s.registerCommands()
	return s
}

func (s *Shell) Run(ctx context.Context) error {
	s.running = true
	s.printWelcome()

	for s.running {
		s.printPrompt()
		if !s.in.Scan() {
			break
		}

		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}

		if err := s.execute(ctx, line); err != nil {
			fmt.Fprintf(s.err, "Error: %v\n", err)
		}
	}

	return s.in.Err()
}

func (s *Shell) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := s.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, s, args)
}

func (s *Shell) Stop() {
	s.running = false
}

// readLine consumes the next input line, used by commands that prompt
// for a second value.
func (s *Shell) readLine() (string, error) {
	if !s.in.Scan() {
		if err := s.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(s.in.Text()), nil
}

func (s *Shell) printWelcome() {
	fmt.Fprintln(s.out, "pawgen interactive mode")
	fmt.Fprintln(s.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(s.out)
}

func (s *Shell) printPrompt() {
	if user, ok := s.session.CurrentUser(); ok {
		fmt.Fprintf(s.out, "pawgen [%s]> ", user.Email)
	} else {
		fmt.Fprint(s.out, "pawgen> ")
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
