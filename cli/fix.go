package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bsaid97/go-spike-fixer/featurepool"
	"github.com/bsaid97/go-spike-fixer/handlers"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/bsaid97/go-spike-fixer/utils"
	"github.com/bsaid97/go-spike-fixer/validity"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type fixOptions struct {
	*rootOptions
	method    string
	outDir    string
	shapefile bool
	precision int
	makeValid bool
}

func newFixCmd(root *rootOptions) *cobra.Command {
	opts := &fixOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "fix [files...]",
		Short: "Remove vertices with an angle below the threshold",
		Long: `Scan the given layers and resolve every small-angle vertex with the chosen
method. File inputs are written to <layer>_PROCESSED.geojson (or .zip with
--shapefile) next to the input or in --out-dir. Store layers are updated in
place; the SQLite store also journals every geometry edit. With --make-valid,
geometries GEOS reports invalid are rebuilt first.`,
		RunE: opts.run,
	}
	cmd.Flags().StringVarP(&opts.method, "method", "m", handlers.MethodDeleteNode.String(), "Resolution method (delete|none)")
	cmd.Flags().StringVarP(&opts.outDir, "out-dir", "o", "", "Directory for repaired files (default: next to each input)")
	cmd.Flags().BoolVar(&opts.shapefile, "shapefile", false, "Write a zip with GeoJSON, report and shapefile")
	cmd.Flags().IntVar(&opts.precision, "precision", -1, "Decimals written back (default: config precision)")
	cmd.Flags().BoolVar(&opts.makeValid, "make-valid", false, "Rebuild GEOS-invalid geometries before the scan")
	return cmd
}

func (o *fixOptions) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	method, err := handlers.ParseMethod(o.method)
	if err != nil {
		return err
	}
	c, err := o.open(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer c.Close()

	if o.makeValid {
		issues, err := validity.RepairAll(ctx, c.Pools, c.Logger)
		if err != nil {
			return err
		}
		printRepairs(o.out, issues)
	}

	check, defects, _, err := c.scan(ctx, o.errOut)
	if err != nil {
		return err
	}
	changes := check.FixAll(ctx, defects, method)
	printOutcomes(o.out, defects, changes)

	if c.SQLite != nil {
		if err := c.SQLite.AppendChanges(ctx, changeRows(changes)); err != nil {
			return err
		}
		c.Logger.Info(ctx, "changes journaled", logging.Int("count", changes.Count()))
	}

	precision := c.Config.Precision
	if cmd.Flags().Changed("precision") {
		precision = o.precision
	}
	for _, layer := range sortedKeys(c.Memory) {
		path, err := o.writeLayer(ctx, c, layer, precision, defects, changes)
		if err != nil {
			return err
		}
		fmt.Fprintf(o.out, "Wrote %s\n", path)
	}
	return nil
}

// writeLayer saves a repaired file-backed layer and returns the written path.
func (o *fixOptions) writeLayer(ctx context.Context, c *cmdContext, layer string, precision int, defects []*handlers.Defect, changes handlers.Changes) (string, error) {
	dir := o.outDir
	if dir == "" {
		dir = filepath.Dir(c.Files[layer])
	}
	features := c.Memory[layer].Features()
	collection, err := featurepool.WriteGeoJSON(features, precision)
	if err != nil {
		return "", fmt.Errorf("%s: %w", layer, err)
	}

	if !o.shapefile {
		path := filepath.Join(dir, layer+"_PROCESSED.geojson")
		if err := os.WriteFile(path, collection, 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, nil
	}

	report, err := json.Marshal(struct {
		Defects []*handlers.Defect          `json:"defects"`
		Changes map[int64][]handlers.Change `json:"changes"`
	}{layerDefects(defects, layer), changes[layer]})
	if err != nil {
		return "", fmt.Errorf("failed to marshal defect report: %w", err)
	}
	export, err := handlers.ExportFeatures(features, precision)
	if err != nil {
		return "", err
	}
	zipData, err := utils.GenerateShapefileZip(layer, collection, report, export)
	if err != nil {
		return "", fmt.Errorf("failed to generate shapefile zip: %w", err)
	}
	path := filepath.Join(dir, layer+"_PROCESSED.zip")
	if err := os.WriteFile(path, zipData, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	c.Logger.Debug(ctx, "shapefile written", logging.String("path", path), logging.Int("bytes", len(zipData)))
	return path, nil
}

func printOutcomes(out io.Writer, defects []*handlers.Defect, changes handlers.Changes) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	counts := make(map[handlers.Status]int)
	for _, d := range defects {
		counts[d.Status()]++
		line := fmt.Sprintf("%s feature %d vertex (%d,%d,%d)", d.LayerID, d.FeatureID, d.Vertex.Part, d.Vertex.Ring, d.Vertex.Vertex)
		switch d.Status() {
		case handlers.StatusFixed:
			method, _ := d.FixMethod()
			green.Fprintf(out, "  fixed     %s: %s\n", line, method)
		case handlers.StatusFixFailed:
			red.Fprintf(out, "  failed    %s: %s\n", line, d.ResolutionMessage())
		case handlers.StatusObsolete:
			yellow.Fprintf(out, "  obsolete  %s\n", line)
		}
	}
	fmt.Fprintf(out, "%d fixed, %d failed, %d obsolete, %d geometry edit(s)\n",
		counts[handlers.StatusFixed], counts[handlers.StatusFixFailed], counts[handlers.StatusObsolete], changes.Count())
}

func printRepairs(out io.Writer, issues []validity.Issue) {
	repaired := 0
	for _, issue := range issues {
		if issue.Repaired {
			repaired++
			continue
		}
		color.New(color.FgRed).Fprintf(out, "  invalid   %s feature %d: %s\n", issue.LayerID, issue.FeatureID, issue.Reason)
	}
	fmt.Fprintf(out, "%d invalid geometr(ies), %d repaired\n", len(issues), repaired)
}

// changeRows flattens changes in a stable layer and feature order.
func changeRows(changes handlers.Changes) []featurepool.ChangeRow {
	var rows []featurepool.ChangeRow
	for _, layer := range sortedKeys(changes) {
		byFeature := changes[layer]
		ids := make([]int64, 0, len(byFeature))
		for id := range byFeature {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			for _, ch := range byFeature[id] {
				rows = append(rows, featurepool.ChangeRow{
					Layer:     layer,
					FeatureID: id,
					What:      ch.What.String(),
					Type:      ch.Type.String(),
					Vertex:    ch.Vertex,
				})
			}
		}
	}
	return rows
}

func layerDefects(defects []*handlers.Defect, layer string) []*handlers.Defect {
	out := []*handlers.Defect{}
	for _, d := range defects {
		if d.LayerID == layer {
			out = append(out, d)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
