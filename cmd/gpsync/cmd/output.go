package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"
)

// render writes v as json or yaml, or calls table for the default format.
func render(w io.Writer, v any, table func(io.Writer)) error {
	switch flags.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = w.Write(b)
		return err
	case "table", "":
		table(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", flags.output)
	}
}

// ago renders an RFC3339 timestamp relative to now, or "-" if unparsable.
func ago(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return "-"
	}
	return humanize.Time(t)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
