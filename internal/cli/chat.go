package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	docchat "github.com/maomaowang214/doc-chat"
	"github.com/maomaowang214/doc-chat/api"
)

type chatOptions struct {
	sessionID    string
	model        string
	useKnowledge bool
}

func newChatCmd(g *globalOptions) *cobra.Command {
	opts := chatOptions{useKnowledge: true}
	cmd := &cobra.Command{
		Use:   "chat <question>",
		Short: "Ask a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			req := api.ChatRequest{
				Model:         opts.model,
				Messages:      api.ChatMessage{Role: "user", Content: strings.Join(args, " ")},
				ChatSessionID: opts.sessionID,
				UseKnowledge:  opts.useKnowledge,
			}
			onReady := func(*http.Response) {
				fmt.Fprint(g.stdout, colorize("36", "assistant> "))
			}
			summary, err := client.Chat(cmd.Context(), req, onReady, func(token string) error {
				_, err := fmt.Fprint(g.stdout, token)
				return err
			})
			fmt.Fprintln(g.stdout)
			if err != nil {
				if docchat.IsCanceled(err) {
					return nil
				}
				return err
			}
			if !summary.Terminated {
				fmt.Fprintln(g.stderr, colorize("33", "stream ended without a completion event"))
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.sessionID, "session", "s", "", "chat session id")
	fs.StringVarP(&opts.model, "model", "m", "", "model name")
	fs.BoolVar(&opts.useKnowledge, "knowledge", true, "answer from the document knowledge base")
	return cmd
}

func newHistoryCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the messages of a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			msgs, err := client.ChatHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printValue(g, msgs)
		},
	}
}

func newSessionCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			sessions, err := client.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			return printValue(g, sessions)
		},
	}

	var title string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			s, err := client.AddSession(cmd.Context(), api.SessionRequest{Title: title})
			if err != nil {
				return err
			}
			return printValue(g, s)
		},
	}
	add.Flags().StringVar(&title, "title", "", "session title")

	rename := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			s, err := client.UpdateSession(cmd.Context(), api.SessionRequest{ID: args[0], Title: args[1]})
			if err != nil {
				return err
			}
			return printValue(g, s)
		},
	}

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			msg, err := client.DeleteSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(g.stdout, msg)
			return nil
		},
	}

	cmd.AddCommand(list, add, rename, remove)
	return cmd
}

var errMissingFile = errors.New("--file is required")
