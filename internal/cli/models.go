package cli

import (
	"github.com/spf13/cobra"

	"github.com/maomaowang214/doc-chat/api"
)

func newModelsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage model configurations",
	}

	var configType string
	list := &cobra.Command{
		Use:   "list",
		Short: "List model configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			var res []api.ModelConfig
			if configType != "" {
				res, err = client.ListModelConfigsByType(cmd.Context(), configType)
			} else {
				res, err = client.ListModelConfigs(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}
	list.Flags().StringVar(&configType, "type", "", "chat or embedding")

	var in api.ModelConfigInput
	var active bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a model configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("active") {
				in.IsActive = &active
			}
			res, err := client.AddModelConfig(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a model configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("active") {
				in.IsActive = &active
			}
			res, err := client.UpdateModelConfig(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}
	for _, c := range []*cobra.Command{add, update} {
		fs := c.Flags()
		fs.StringVar(&in.ConfigType, "type", "", "chat or embedding")
		fs.StringVar(&in.ModelName, "model", "", "model name")
		fs.StringVar(&in.APIKey, "api-key", "", "provider API key")
		fs.StringVar(&in.BaseURL, "url", "", "provider base URL")
		fs.StringVar(&in.Remark, "remark", "", "remark")
		fs.BoolVar(&active, "active", false, "make this the active configuration")
	}
	_ = add.MarkFlagRequired("type")
	_ = add.MarkFlagRequired("model")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a model configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			res, err := client.DeleteModelConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}

	activate := &cobra.Command{
		Use:   "activate <id>",
		Short: "Make a model configuration active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			res, err := client.SetActiveModelConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}

	initDefault := &cobra.Command{
		Use:   "init-default",
		Short: "Seed the default model configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.newAPI()
			if err != nil {
				return err
			}
			res, err := client.InitDefaultModelConfigs(cmd.Context())
			if err != nil {
				return err
			}
			return printValue(g, res)
		},
	}

	cmd.AddCommand(list, add, update, remove, activate, initDefault)
	return cmd
}
