package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kshedden/survstat/analysis"
	"github.com/kshedden/survstat/colon"
	"github.com/kshedden/survstat/config"
	"github.com/kshedden/survstat/dataset"
)

// globalOptions holds the persistent flags.  Empty values leave the plan
// file and environment settings in place.
type globalOptions struct {
	config   string
	data     string
	etype    string
	logLevel string
	format   string
	workers  int
}

func newRootCmd() *cobra.Command {

	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "survstat",
		Short: "Survival analysis of the colon cancer adjuvant therapy trial",
		Long: `survstat fits survival models to the colon cancer trial data (CSV or XLSX).

Each subcommand runs one analysis; "run" executes every model in a YAML
analysis plan concurrently.  Settings are taken from flags, then the
SURVSTAT_DATA, SURVSTAT_WORKERS and SURVSTAT_LOG_LEVEL environment
variables (a .env file is read if present), then the plan file.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.config, "config", "", "Analysis plan file (YAML)")
	pf.StringVar(&opts.data, "data", "", "Colon data file (.csv or .xlsx)")
	pf.StringVar(&opts.etype, "etype", "", "Event table: recurrence, death or first")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&opts.format, "format", "text", "Output format: text or json")
	pf.IntVar(&opts.workers, "workers", 0, "Maximum number of concurrent fits")

	root.AddCommand(
		newDescribeCmd(opts),
		newKMCmd(opts),
		newLogRankCmd(opts),
		newCoxCmd(opts),
		newZPHCmd(opts),
		newAFTCmd(opts),
		newCumIncCmd(opts),
		newRunCmd(opts),
	)

	return root
}

// settings merges the plan file, the environment and the flags.
func (o *globalOptions) settings(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {

	if o.format != "text" && o.format != "json" {
		return nil, nil, fmt.Errorf("unknown output format '%s'", o.format)
	}

	c, err := config.Load(o.config)
	if err != nil {
		return nil, nil, err
	}

	if o.data != "" {
		c.Data = o.data
	}
	if o.etype != "" {
		c.EType = o.etype
	}
	if o.logLevel != "" {
		c.LogLevel = o.logLevel
	}
	if o.workers > 0 {
		c.Workers = o.workers
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	lev, err := c.Level()
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lev}))

	return c, log, nil
}

// loadTable reads the data file and builds the selected event table.
func loadTable(c *config.Config, log *slog.Logger) (*dataset.Table, error) {

	if c.Data == "" {
		return nil, fmt.Errorf("no data file: use --data or %s", config.EnvData)
	}

	recs, err := colon.Load(c.Data, log)
	if err != nil {
		return nil, err
	}

	var tb *dataset.Table
	switch c.EType {
	case config.ETypeFirst:
		tb, err = colon.FirstEventTable(recs)
	default:
		var et colon.EventType
		et, err = colon.ParseEventType(c.EType)
		if err != nil {
			return nil, err
		}
		tb, err = colon.Table(recs, et)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("built event table",
		slog.String("etype", c.EType),
		slog.Int("subjects", tb.Len()))

	return tb, nil
}

// execute runs the models against the configured data and writes the
// reports.
func (o *globalOptions) execute(cmd *cobra.Command, c *config.Config, log *slog.Logger, models ...analysis.ModelSpec) error {

	tb, err := loadTable(c, log)
	if err != nil {
		return err
	}

	plan := c.Plan(log)
	plan.Models = models

	reports, runErr := analysis.Run(cmd.Context(), tb, plan)

	if err := writeReports(cmd.OutOrStdout(), o.format, reports); err != nil {
		return err
	}

	return runErr
}

func writeReports(w io.Writer, format string, reports []analysis.Report) error {

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s): %s\n", r.Name, r.Kind, r.Status)
		if r.Error != "" {
			fmt.Fprintf(w, "error: %s\n", r.Error)
		}
		if s, ok := r.Payload.(fmt.Stringer); ok {
			fmt.Fprintln(w, s.String())
		}
	}

	return nil
}

// parsePredict reads a covariate vector written "name=value,name=value".
func parsePredict(s string) (map[string]string, error) {

	q := make(map[string]string)
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed prediction query '%s', expected name=value,...", s)
		}
		q[k] = v
	}

	return q, nil
}

func parsePredictions(qs []string) ([]map[string]string, error) {
	var out []map[string]string
	for _, s := range qs {
		q, err := parsePredict(s)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
