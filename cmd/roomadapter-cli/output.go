package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

// render writes v in the selected format. text prints v the human way.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()

	switch output {
	case outputJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)

	case outputYAML:
		// Go through JSON so keys use the API's field names
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return encoder.Close()

	default:
		text(w)
		return nil
	}
}

// status prints progress lines in text mode only, keeping json and yaml output parseable
func status(cmd *cobra.Command, format string, args ...any) {
	if output == outputText {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

func printList(w io.Writer, items []string, none string) {
	if len(items) == 0 {
		fmt.Fprintln(w, none)
		return
	}
	for i, item := range items {
		fmt.Fprintf(w, "%d. %s\n", i+1, item)
	}
}
