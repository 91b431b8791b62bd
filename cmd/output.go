package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/extendspider-console/internal/spider"
	"github.com/JakeFAU/extendspider-console/internal/statusview"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// render writes v as JSON or YAML. YAML keeps the JSON field order.
func render(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if format == outputJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("convert output to yaml: %w", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles JSON input leaves on every
// node; the encoder still quotes strings that would otherwise change type.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		blockStyle(child)
	}
}

func printConfig(w io.Writer, format string, cfg spider.GlobalConfig) error {
	if format != outputTable {
		return render(w, format, cfg)
	}
	fmt.Fprintf(w, "enabled: %t  cron: %s  onlyonce: %t  tags: %s\n\n",
		cfg.Enabled, cfg.Cron, cfg.OnlyOnce, strings.Join(cfg.Tags, ","))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tPROXY\tTAGS\tDESCRIPTION")
	for _, name := range cfg.Spiders.Names() {
		rec, _ := cfg.Spiders.Get(name)
		proxy := "-"
		if rec.UseProxy {
			proxy = string(rec.ProxyType)
			if proxy == "" {
				proxy = "yes"
			}
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", name, rec.Enabled, proxy, strings.Join(rec.Tags, ","), rec.Description)
	}
	return tw.Flush()
}

func printStatus(w io.Writer, format string, st statusview.State) error {
	if format != outputTable {
		return render(w, format, st)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "STATUS\t%s\n", st.Status.Status)
	fmt.Fprintf(tw, "TOTAL\t%d\n", st.Status.Total)
	fmt.Fprintf(tw, "ENABLED\t%d\n", st.Status.Enabled)
	fmt.Fprintf(tw, "DISABLED\t%d\n", st.Status.Disabled)
	fmt.Fprintf(tw, "TAGS\t%d\t%s\n", st.TagCount(), strings.Join(st.Status.Tags, ","))
	if !st.LastUpdated.IsZero() {
		fmt.Fprintf(tw, "UPDATED\t%s\n", st.LastUpdated.Format(time.RFC3339))
	}
	if st.Error != "" {
		fmt.Fprintf(tw, "ERROR\t%s\n", st.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(st.Activity) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tTITLE\tTIME")
	for _, a := range st.Activity {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Type, a.Title, a.Time)
	}
	return tw.Flush()
}
