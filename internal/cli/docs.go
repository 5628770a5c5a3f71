package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maomaowang214/doc-chat/api"
)

type pageOptions struct {
	pageNum  int
	pageSize int
	name     string
}

func (p *pageOptions) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&p.pageNum, "page", 1, "page number")
	fs.IntVar(&p.pageSize, "size", 10, "page size")
	fs.StringVar(&p.name, "name", "", "filter by name")
}

func (p *pageOptions) params() api.PageParams {
	return api.PageParams{PageNum: p.pageNum, PageSize: p.pageSize, Filters: map[string]string{"name": p.name}}
}

func newDocsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage knowledge base documents",
	}

	var page pageOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			res, err := client.DocumentPage(cmd.Context(), page.params())
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}
	page.bind(list)

	var upload struct {
		id, name, file string
	}
	send := func(update bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			u := api.DocumentUpload{ID: upload.id, Name: upload.name}
			if upload.file != "" {
				f, err := os.Open(upload.file)
				if err != nil {
					return err
				}
				defer f.Close()
				u.FileName = filepath.Base(upload.file)
				u.Content = f
			} else if !update {
				return errMissingFile
			}
			var msg string
			if update {
				msg, err = client.UpdateDocument(cmd.Context(), u)
			} else {
				msg, err = client.AddDocument(cmd.Context(), u)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(g.stdout, msg)
			return nil
		}
	}
	add := &cobra.Command{Use: "add", Short: "Upload a document", RunE: send(false)}
	update := &cobra.Command{Use: "update", Short: "Replace a document", RunE: send(true)}
	for _, c := range []*cobra.Command{add, update} {
		c.Flags().StringVar(&upload.name, "name", "", "document name")
		c.Flags().StringVarP(&upload.file, "file", "f", "", "file to upload")
	}
	update.Flags().StringVar(&upload.id, "id", "", "document id")
	_ = update.MarkFlagRequired("id")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			msg, err := client.DeleteDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(g.stdout, msg)
			return nil
		},
	}

	var out string
	download := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			d, err := client.DownloadDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return saveDownload(g, d, out, args[0])
		},
	}
	download.Flags().StringVar(&out, "out", "", "output path (default: server file name)")

	var blocking bool
	vectorize := &cobra.Command{
		Use:   "vectorize",
		Short: "Vectorize every document and follow progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			if blocking {
				msg, err := client.VectorizeAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(g.stdout, msg)
				return nil
			}
			last, err := client.WatchVectorProgress(cmd.Context(), func(p api.VectorProgress) {
				fmt.Fprintf(g.stdout, "\r%-12s %5.1f%%  %d/%d  %s", p.Status, p.Progress, p.Current, p.Total, p.Message)
			})
			fmt.Fprintln(g.stdout)
			if err != nil {
				return err
			}
			if last.Status != api.VectorCompleted {
				return fmt.Errorf("vectorization ended with status %s", last.Status)
			}
			return nil
		},
	}
	vectorize.Flags().BoolVar(&blocking, "blocking", false, "use the blocking endpoint without progress")

	progress := &cobra.Command{
		Use:   "progress",
		Short: "Show vectorization progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			p, err := client.VectorProgress(cmd.Context())
			if err != nil {
				return err
			}
			return printValue(g, p)
		},
	}

	cmd.AddCommand(list, add, update, remove, download, vectorize, progress)
	return cmd
}

func saveDownload(g *globalOptions, d *api.Download, out, fallback string) error {
	if out == "" {
		out = d.Filename
	}
	if out == "" {
		out = fallback
	}
	if err := os.WriteFile(out, d.Data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "saved %s (%d bytes)\n", out, len(d.Data))
	return nil
}
