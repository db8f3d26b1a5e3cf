package doc

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mantlenetworkio/teleport/op-service/metrics"
)

const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

type Documentor interface {
	Document() []metrics.DocumentedMetric
}

var formatFlag = &cli.StringFlag{
	Name:  "format",
	Value: FormatMarkdown,
	Usage: "Output format (json|markdown)",
}

// NewSubcommands returns the doc commands of an app with the given metrics.
func NewSubcommands(m Documentor) cli.Commands {
	return cli.Commands{
		{
			Name:  "metrics",
			Usage: "Dumps a list of supported metrics to stdout",
			Flags: []cli.Flag{formatFlag},
			Action: func(ctx *cli.Context) error {
				return Write(ctx.App.Writer, m.Document(), ctx.String(formatFlag.Name))
			},
		},
	}
}

// Write renders the metrics in the given format.
func Write(w io.Writer, supported []metrics.DocumentedMetric, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(supported)
	case FormatMarkdown:
		if _, err := fmt.Fprintln(w, "| Metric | Type | Labels | Description |\n|---|---|---|---|"); err != nil {
			return err
		}
		for _, m := range supported {
			if _, err := fmt.Fprintf(w, "| %s | %s | %s | %s |\n", m.Name, m.Type, strings.Join(m.Labels, ","), m.Help); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid format: %q", format)
	}
}
