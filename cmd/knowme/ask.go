package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fyrsmithlabs/knowme/internal/chat"
)

// chatter is the part of the chat service ask needs.
type chatter interface {
	Chat(ctx context.Context, userID, message string) (*chat.Answer, error)
	Reset(ctx context.Context, userID string) error
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [message]",
		Short: "Ask a question grounded in your documents",
		Long: `Ask a question as the --user and print the answer with its sources.

Without a message, ask starts an interactive session when stdin is a
terminal and otherwise reads one message from stdin. In a session, /reset
forgets the conversation and /quit leaves.

Examples:
  knowme ask --user alice "Summarize my lease"
  echo "What are my goals?" | knowme ask --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), features{chat: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case len(args) > 0:
				return askOnce(ctx, a.chat, userID, strings.Join(args, " "), out)
			case isTerminal(cmd.InOrStdin()):
				return askLoop(ctx, a.chat, userID, cmd.InOrStdin(), out)
			default:
				msg, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				return askOnce(ctx, a.chat, userID, string(msg), out)
			}
		},
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func askOnce(ctx context.Context, c chatter, user, message string, out io.Writer) error {
	answer, err := c.Chat(ctx, user, message)
	if err != nil {
		return err
	}
	printAnswer(out, answer)
	return nil
}

// askLoop runs an interactive session until EOF or /quit. Failed turns are
// printed and the session continues.
func askLoop(ctx context.Context, c chatter, user string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Chatting as %s. /reset forgets the conversation, /quit leaves.\n", user)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := c.Reset(ctx, user); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		if err := askOnce(ctx, c, user, line, out); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(out, "Error:", err)
		}
	}
}

func printAnswer(out io.Writer, a *chat.Answer) {
	fmt.Fprintln(out, a.Response)
	if len(a.Sources) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Sources:")
	for _, s := range a.Sources {
		fmt.Fprintf(out, "  - %s\n", s)
	}
}
