package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maomaowang214/doc-chat/api"
)

func newRagTestCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragtest",
		Short: "Manage RAG evaluation question sets",
	}

	var page pageOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List question sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			res, err := client.RagTestPage(cmd.Context(), page.params())
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}
	page.bind(list)

	var gen struct {
		name, docID, file string
	}
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a question set from a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gen.file == "" {
				return errMissingFile
			}
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			f, err := os.Open(gen.file)
			if err != nil {
				return err
			}
			defer f.Close()
			taskID, err := client.GenerateRagTest(cmd.Context(), api.RagTestUpload{
				Name:     gen.name,
				DocID:    gen.docID,
				FileName: filepath.Base(gen.file),
				Content:  f,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(g.stdout, taskID)
			return nil
		},
	}
	generate.Flags().StringVar(&gen.name, "name", "", "question set name")
	generate.Flags().StringVar(&gen.docID, "doc", "", "document id")
	generate.Flags().StringVarP(&gen.file, "file", "f", "", "source file")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a question set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			msg, err := client.DeleteRagTest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(g.stdout, msg)
			return nil
		},
	}

	var out string
	export := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a question set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			d, err := client.ExportRagTest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return saveDownload(g, d, out, args[0]+".xlsx")
		},
	}
	export.Flags().StringVar(&out, "out", "", "output path")

	status := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a generation task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			res, err := client.RagTestTaskStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}

	cmd.AddCommand(list, generate, remove, export, status)
	return cmd
}
