// pipeline-tui is a terminal kanban client for the pipeline CRM API.
//
// It signs in with a session token (see `server --issue-token`), optionally
// accepts an invitation first, and opens the board of one stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/client"
	"pipeline-crm-backend/pkg/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		apiURL   string
		token    string
		streamID string
		accept   string
		list     bool
	)
	flagSet := pflag.NewFlagSet("pipeline-tui", pflag.ContinueOnError)
	flagSet.StringVar(&apiURL, "api", envOr("PIPELINE_API_URL", "http://localhost:3000"), "API base URL")
	flagSet.StringVar(&token, "token", os.Getenv("PIPELINE_TOKEN"), "session access token")
	flagSet.StringVarP(&streamID, "stream", "s", "", "stream to open (default: your first stream)")
	flagSet.StringVar(&accept, "accept", "", "accept this invitation token, then open its stream")
	flagSet.BoolVar(&list, "list", false, "print your streams and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if token == "" {
		return errors.New("a session token is required: pass --token or set PIPELINE_TOKEN")
	}

	api := client.New(apiURL, token)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if accept != "" {
		res, err := api.AcceptInvitation(ctx, accept)
		if err != nil {
			return explain(err)
		}
		if res.AlreadyMember {
			fmt.Fprintln(os.Stderr, "You were already a member of this stream.")
		}
		streamID = res.StreamID
	}

	if list || streamID == "" {
		streams, err := api.ListStreams(ctx)
		if err != nil {
			return explain(err)
		}
		if len(streams) == 0 {
			return errors.New("you are not a member of any stream yet")
		}
		if list {
			for _, s := range streams {
				marker := " "
				if s.IsDefault {
					marker = "*"
				}
				fmt.Printf("%s %s  %s\n", marker, s.ID, s.Name)
			}
			return nil
		}
		streamID = streams[0].ID
	}
	cancel()

	program := tea.NewProgram(tui.NewModel(api, streamID), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// explain turns API errors into a line a terminal user can act on.
func explain(err error) error {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return err
	}
	switch appErr.Kind {
	case apperrors.EmailMismatch:
		if link := appErr.Metadata["details"]; link != "" {
			return fmt.Errorf("%s\nsign in as the invited address: %s", appErr.Message, link)
		}
	case apperrors.Expired:
		return fmt.Errorf("%s; ask for a new invitation", appErr.Message)
	}
	return errors.New(appErr.Message)
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `pipeline-tui: terminal pipeline board.

Keys: h/l pick a column, j/k pick an entry, space grabs and drops,
esc cancels a drag, r retries a failed move, q quits.

Usage:
  pipeline-tui [flags]

Examples:
  # Open your first stream
  PIPELINE_TOKEN=... pipeline-tui

  # Join a stream from an invite link and open it
  pipeline-tui --token ... --accept 8f3kQ...

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
