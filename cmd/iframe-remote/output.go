package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/mineclover/iframe-remote/schema"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (table, json, yaml)", format)
}

// writeValue prints a decoded value. table falls back to indented json for
// anything that is not a function list.
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("format yaml: %w", err)
		}
		_, err = w.Write(b)
		return err
	case formatTable:
		if fns, ok := v.([]schema.Function); ok {
			return writeFunctionTable(w, fns)
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("format json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// writeRaw prints a raw JSON result in format.
func writeRaw(w io.Writer, format string, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if format == formatYAML {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return writeValue(w, format, v)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}

func writeFunctionTable(w io.Writer, fns []schema.Function) error {
	if len(fns) == 0 {
		_, err := fmt.Fprintln(w, "No functions found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tPARAMS\tDESCRIPTION")
	for _, fn := range fns {
		params := make([]string, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = p.Name + ":" + string(p.Type)
			if p.Required {
				params[i] += "*"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", fn.Name, fn.Kind, strings.Join(params, ","), fn.Description)
	}
	return tw.Flush()
}

// parseArgs turns command-line arguments into call arguments. Valid JSON is
// passed through; anything else is sent as a string.
func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		if json.Valid([]byte(arg)) {
			out[i] = json.RawMessage(arg)
		} else {
			out[i] = arg
		}
	}
	return out
}
