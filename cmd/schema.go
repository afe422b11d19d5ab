package cmd

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/registry"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema record|registry",
		Short:     "Print the JSON Schema of a persisted file format",
		Long:      "record: one line of a conversation log.\nregistry: the Telegram session registry file.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"record", "registry"},
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schemaFor(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func schemaFor(name string) ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  name == "registry",
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: false,
	}

	var schema *jsonschema.Schema
	switch name {
	case "record":
		schema = reflector.Reflect(&conversation.Record{})
		schema.Title = "Conversation log record"
	case "registry":
		schema = reflector.Reflect(map[string]registry.Entry{})
		schema.Title = "Session registry"
	default:
		return nil, fmt.Errorf("unknown schema %q (want record or registry)", name)
	}
	return schema.MarshalJSON()
}
