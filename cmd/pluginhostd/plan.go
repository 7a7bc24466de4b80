package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"PluginHost/pkg/logger"
	"PluginHost/pkg/plugin"
)

type pipelinePlan struct {
	SearchPaths []string         `json:"searchPaths"`
	Plan        *plugin.LoadPlan `json:"plan"`
	Errors      []string         `json:"errors,omitempty"`
}

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the boot priority plan of every pipeline without loading plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mcfg, err := quietManagerConfig(cmd)
			if err != nil {
				return err
			}
			discoverer := plugin.NewDiscoverer(plugin.JSONManifestReader{}, nil, logger.Named("plan"))
			out := make(map[string]pipelinePlan, len(mcfg.Pipelines))
			for _, name := range mcfg.PipelineNames() {
				pc := mcfg.Pipelines[name]
				res := discoverer.Discover(cmd.Context(), pc.SearchPaths)
				pp := pipelinePlan{SearchPaths: pc.SearchPaths, Plan: res.Plan}
				for _, e := range res.Errors {
					pp.Errors = append(pp.Errors, e.Error())
				}
				out[name] = pp
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the plugins found in every pipeline, grouped by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mcfg, err := quietManagerConfig(cmd)
			if err != nil {
				return err
			}
			reader := plugin.JSONManifestReader{}
			discoverer := plugin.NewDiscoverer(reader, nil, logger.Named("list"))
			var rows []listRow
			for _, name := range mcfg.PipelineNames() {
				res := discoverer.Discover(cmd.Context(), mcfg.Pipelines[name].SearchPaths)
				for _, priority := range res.Plan.Priorities() {
					for _, folder := range res.Plan.Folders(priority) {
						m, err := reader.ReadManifest(folder)
						if err != nil {
							continue
						}
						rows = append(rows, listRow{pipeline: name, priority: priority, manifest: m})
					}
				}
			}
			return writeList(cmd.OutOrStdout(), rows)
		},
	}
}

type listRow struct {
	pipeline string
	priority int
	manifest *plugin.Manifest
}

func writeList(w io.Writer, rows []listRow) error {
	title := cases.Title(language.English)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PIPELINE\tCATEGORY\tNAME\tVERSION\tPRIORITY")
	for _, r := range rows {
		category := title.String(strings.ReplaceAll(r.manifest.Category(), "_", " "))
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.pipeline, category, r.manifest.Name, r.manifest.Version, r.priority)
	}
	return tw.Flush()
}

// quietManagerConfig 读取插件配置，只读命令把日志级别降到 warn。
func quietManagerConfig(cmd *cobra.Command) (plugin.ManagerConfig, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return plugin.ManagerConfig{}, err
	}
	logging := cfg.Logging
	logging.Level = "warn"
	logging.OutputPaths = []string{"stderr"}
	logging.Audit.Enabled = false
	if err := logger.Init(logging); err != nil {
		return plugin.ManagerConfig{}, err
	}
	return loadManagerConfig(cfg)
}
