package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// outputFormatKind is the structured output format for CLI commands.
type outputFormatKind string

const (
	formatYAML outputFormatKind = "yaml"
	formatJSON outputFormatKind = "json"
)

// globalFormat is set by the root command's --output flag.
var globalFormat = formatYAML

// setOutputFormat sets the global output format.
func setOutputFormat(format string) {
	switch format {
	case "json":
		globalFormat = formatJSON
	default:
		globalFormat = formatYAML
	}
}

// output writes data to stdout in the configured format.
func output(data any) error {
	return outputTo(os.Stdout, globalFormat, data)
}

// outputTo writes data to the given writer in the specified format.
func outputTo(w io.Writer, format outputFormatKind, data any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
