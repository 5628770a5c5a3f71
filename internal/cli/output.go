package cli

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

func printValue(opts *globalOptions, v any) error {
	switch opts.output {
	case "yaml":
		enc := yaml.NewEncoder(opts.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(opts.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", opts.output)
	}
}
