package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/pathfold/pkg/config"
	"github.com/orneryd/pathfold/pkg/pathfold"
	"github.com/orneryd/pathfold/pkg/planner"
	"github.com/orneryd/pathfold/pkg/storage"
)

// loadConfig layers defaults, the config file, environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if v, _ := flags.GetString("schema"); v != "" {
		cfg.Storage.SchemaFile = v
	}
	if v, _ := flags.GetString("data"); v != "" {
		cfg.Storage.RecordsFile = v
	}
	if v, _ := flags.GetString("backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if noFold, _ := flags.GetBool("no-fold"); noFold {
		cfg.Planner.FoldingEnabled = false
	}
	return cfg, nil
}

func openDB(cmd *cobra.Command) (*pathfold.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return pathfold.Open(cfg)
}

// wantJSON reports whether output should be JSON: when asked, or when out is
// not a terminal.
func wantJSON(cmd *cobra.Command, out io.Writer) bool {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return true
	}
	f, ok := out.(*os.File)
	return !ok || !isatty.IsTerminal(f.Fd())
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runExplain(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	class, _ := cmd.Flags().GetString("class")
	ex, err := db.Explain(class, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !wantJSON(cmd, out) {
		_, err := io.WriteString(out, ex.String())
		return err
	}

	type hop struct {
		Field     string `json:"field"`
		Index     string `json:"index"`
		Composite bool   `json:"composite,omitempty"`
	}
	doc := struct {
		Class     string `json:"class"`
		Path      string `json:"path"`
		Strategy  string `json:"strategy"`
		Seed      string `json:"seed,omitempty"`
		Hops      []hop  `json:"hops,omitempty"`
		Rejection string `json:"rejection,omitempty"`
		Reason    string `json:"reason,omitempty"`
	}{
		Class:    ex.Class,
		Path:     ex.Path,
		Strategy: ex.Strategy.String(),
		Seed:     ex.Seed,
		Reason:   ex.Reason,
	}
	for _, h := range ex.Hops {
		doc.Hops = append(doc.Hops, hop{Field: h.Field, Index: h.Index, Composite: h.Composite})
	}
	if ex.Rejection != nil {
		doc.Rejection = ex.Rejection.String()
	}
	return writeJSON(out, doc)
}

func runQuery(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	flags := cmd.Flags()
	class, _ := flags.GetString("class")
	rawValues, _ := flags.GetStringArray("value")
	ids, _ := flags.GetStringArray("id")
	negate, _ := flags.GetBool("not")

	values, err := parseValues(rawValues)
	if err != nil {
		return err
	}
	for _, id := range ids {
		values = append(values, storage.RecordID(id))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := db.Filter(ctx, planner.Query{Class: class, Path: args[0], Values: values, Negate: negate})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd, out) {
		idStrings := make([]string, len(res.IDs))
		for i, id := range res.IDs {
			idStrings[i] = id.String()
		}
		return writeJSON(out, struct {
			Strategy string   `json:"strategy"`
			Count    int      `json:"count"`
			IDs      []string `json:"ids"`
		}{res.Strategy.String(), len(res.IDs), idStrings})
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLASS")
	for _, id := range res.IDs {
		fmt.Fprintf(w, "%s\t%s\n", id, class)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d record(s), strategy %s\n", len(res.IDs), res.Strategy)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	type indexStat struct {
		Name   string   `json:"name"`
		Fields []string `json:"fields"`
		Usage  int64    `json:"usage"`
	}
	type classStat struct {
		Name    string      `json:"name"`
		Records int         `json:"records"`
		Indexes []indexStat `json:"indexes"`
	}

	var stats []classStat
	for _, c := range db.Schema().Classes() {
		cs := classStat{Name: c.Name(), Indexes: []indexStat{}}
		if n, err := db.CountClass(c.Name()); err == nil {
			cs.Records = n
		}
		for _, idx := range c.Indexes() {
			cs.Indexes = append(cs.Indexes, indexStat{
				Name:   idx.Name(),
				Fields: idx.Definition().Fields,
				Usage:  idx.Usage(),
			})
		}
		stats = append(stats, cs)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	out := cmd.OutOrStdout()
	if wantJSON(cmd, out) {
		return writeJSON(out, stats)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tRECORDS\tINDEX\tFIELDS\tUSAGE")
	for _, cs := range stats {
		if len(cs.Indexes) == 0 {
			fmt.Fprintf(w, "%s\t%d\t-\t-\t-\n", cs.Name, cs.Records)
			continue
		}
		for _, is := range cs.Indexes {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n", cs.Name, cs.Records, is.Name, strings.Join(is.Fields, ","), is.Usage)
		}
	}
	return w.Flush()
}

// parseValues reads each value as a YAML scalar.
func parseValues(raw []string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for _, s := range raw {
		var v any
		if err := yaml.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", s, err)
		}
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("invalid value %q: not a scalar", s)
		case nil:
			if s != "null" && s != "~" {
				v = s
			}
		}
		out = append(out, v)
	}
	return out, nil
}
