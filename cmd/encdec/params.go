package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/t5"
)

type paramEntry struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Size  int    `json:"size"`
}

type manifest struct {
	Config     t5.Config    `json:"config"`
	Total      int          `json:"total"`
	Parameters []paramEntry `json:"parameters"`
}

// loadConfig reads path when given, otherwise returns the defaults for vocab.
func loadConfig(path string, vocab int) (t5.Config, error) {
	if path != "" {
		return t5.LoadConfig(path)
	}
	cfg := t5.DefaultConfig(vocab)
	return cfg, cfg.Validate()
}

func paramsCmd() *cli.Command {
	var (
		configPath string
		vocab      int64
		asJSON     bool
	)

	return &cli.Command{
		Name:  "params",
		Usage: "List parameter names and shapes for a model config",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or JSON model config", Destination: &configPath},
			&cli.Int64Flag{Name: "vocab", Usage: "vocabulary size when no config is given", Value: 1536, Destination: &vocab},
			&cli.BoolFlag{Name: "json", Usage: "print a JSON manifest", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(configPath, int(vocab))
			if err != nil {
				return err
			}
			model, err := t5.New(cfg, cpu.New(), t5.WithLogger(newLogger()))
			if err != nil {
				return err
			}

			m := manifest{Config: cfg}
			for _, p := range model.Parameters() {
				shape := p.Shape()
				m.Parameters = append(m.Parameters, paramEntry{Name: p.Name(), Shape: shape, Size: shape.NumElements()})
				m.Total += shape.NumElements()
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, p := range m.Parameters {
				_, _ = fmt.Fprintf(w, "%s\t%v\t%d\n", p.Name, p.Shape, p.Size)
			}
			_, _ = fmt.Fprintf(w, "total\t\t%d\n", m.Total)
			return w.Flush()
		},
	}
}
