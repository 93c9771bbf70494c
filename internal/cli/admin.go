package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin <command> [args...]",
		Short: "Run an admin command",
		Long: `Run an admin command on the server, for example:

  mpctl admin kban alice 1d spamming
  mpctl admin msg Restarting in five minutes

With --fifo the command is written to the server's command pipe and its output
goes to the server log.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := strings.Join(args, " ")
			out := NewOutput(cfg.Output, cmd.OutOrStdout())

			if cfg.Fifo != "" {
				if err := writeFifo(cfg.Fifo, line); err != nil {
					return err
				}
				out.PrintMessage(fmt.Sprintf("Command sent to %s.", cfg.Fifo))
				return nil
			}

			result, err := client.Admin(cmd.Context(), line)
			switch {
			case errors.Is(err, ErrUnavailable):
				return fmt.Errorf("server at %s is not taking commands: %w", cfg.ServerURL, err)
			case err != nil:
				return err
			}

			out.Print(result)
			return nil
		},
	}
}

// writeFifo blocks until the server has the pipe open for reading
func writeFifo(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open command pipe: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write command pipe: %w", err)
	}
	return f.Close()
}
