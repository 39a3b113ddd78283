package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/bsaid97/go-spike-fixer/handlers"
	"github.com/bsaid97/go-spike-fixer/validity"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type checkOptions struct {
	*rootOptions
	jsonOutput bool
	validate   bool
}

type checkReport struct {
	MinAngle float64            `json:"minAngle"`
	Features int64              `json:"features"`
	Defects  []*handlers.Defect `json:"defects"`
	Issues   []validity.Issue   `json:"issues,omitempty"`
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "check [files...]",
		Short: "Report vertices with an angle below the threshold",
		Long: `Scan every line and polygon of the given layers and list each vertex whose
angle between its two adjacent edges is below --min-angle. Nothing is modified.`,
		RunE: opts.run,
	}
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&opts.validate, "validate", false, "Also run the GEOS validity test")
	return cmd
}

func (o *checkOptions) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := o.open(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer c.Close()

	_, defects, total, err := c.scan(ctx, o.errOut)
	if err != nil {
		return err
	}
	report := checkReport{MinAngle: c.Config.MinAngle, Features: total, Defects: defects}
	if o.validate {
		if report.Issues, err = validity.Check(ctx, c.Pools, c.Logger); err != nil {
			return err
		}
	}

	if o.jsonOutput {
		enc := json.NewEncoder(o.out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(o.out, report)
	return nil
}

// scan runs the angle check over every open layer.
func (c *cmdContext) scan(ctx context.Context, progressOut io.Writer) (*handlers.AngleCheck, []*handlers.Defect, int64, error) {
	check, err := c.newCheck()
	if err != nil {
		return nil, nil, 0, err
	}
	ids, total, err := c.featureIDs(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	progress := startProgress(progressOut, total, "scanning", c.Logger)
	defects := check.CollectErrors(ctx, ids, progress)
	progress.Stop()
	if err := ctx.Err(); err != nil {
		return nil, nil, 0, err
	}
	if defects == nil {
		defects = []*handlers.Defect{}
	}
	return check, defects, total, nil
}

func printReport(out io.Writer, report checkReport) {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if len(report.Defects) == 0 {
		green.Fprintf(out, "No vertex below %g° in %d feature(s)\n", report.MinAngle, report.Features)
	} else {
		red.Fprintf(out, "%d vertex(es) below %g° in %d feature(s)\n", len(report.Defects), report.MinAngle, report.Features)
		for _, layer := range defectLayers(report.Defects) {
			fmt.Fprintf(out, "\n%s:\n", layer)
			for _, d := range report.Defects {
				if d.LayerID != layer {
					continue
				}
				fmt.Fprintf(out, "  feature %-8d vertex (%d,%d,%d)  ", d.FeatureID, d.Vertex.Part, d.Vertex.Ring, d.Vertex.Vertex)
				yellow.Fprintf(out, "%.6f°", d.Angle)
				fmt.Fprintf(out, "  at %s\n", formatCoord(d.Location))
			}
		}
	}

	if report.Issues == nil {
		return
	}
	if len(report.Issues) == 0 {
		green.Fprintln(out, "All geometries are valid")
		return
	}
	red.Fprintf(out, "\n%d invalid geometr(ies):\n", len(report.Issues))
	for _, issue := range report.Issues {
		fmt.Fprintf(out, "  %s feature %d: %s\n", issue.LayerID, issue.FeatureID, issue.Reason)
	}
}

func defectLayers(defects []*handlers.Defect) []string {
	seen := make(map[string]bool)
	var layers []string
	for _, d := range defects {
		if !seen[d.LayerID] {
			seen[d.LayerID] = true
			layers = append(layers, d.LayerID)
		}
	}
	sort.Strings(layers)
	return layers
}

func formatCoord(c []float64) string {
	if len(c) < 2 {
		return "()"
	}
	return fmt.Sprintf("(%g, %g)", c[0], c[1])
}
