// Package interactive provides the interactive command-line interface
// for autopatchd. It is a readline front end over the same command
// handler the TCP console serves, so both surfaces stay in sync.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/autopatch-io/autopatch/pkg/console"
)

// Console handles interactive mode for autopatchd.
type Console struct {
	rl *readline.Instance
}

// New creates a new interactive console. It takes over the terminal
// immediately so log output can be routed through Stdout before the
// command loop starts.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "autopatch> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline
// input. Use this for log output to avoid interfering with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}

// Run starts the interactive command loop. Quitting (or EOF on the
// terminal) cancels the daemon context.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, handler *console.Handler) {
	fmt.Fprintln(c.rl.Stdout(), "Type 'help' for commands.")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		if quit := handler.Execute(c.rl.Stdout(), line); quit {
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
	}
}
