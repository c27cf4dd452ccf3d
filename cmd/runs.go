package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing and viewing analysis runs and exporting their records.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs export --

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export the records of a run as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetRun(ctx, args[0]); err != nil {
			return eris.Wrap(err, "runs export")
		}

		city, _ := cmd.Flags().GetString("city")
		analysis, _ := cmd.Flags().GetString("analysis")
		recs, err := st.ListRecords(ctx, store.RecordFilter{
			RunID:    args[0],
			City:     city,
			Analysis: model.Analysis(analysis),
			Limit:    100000,
		})
		if err != nil {
			return eris.Wrap(err, "runs export")
		}

		out := io.Writer(os.Stdout)
		if path, _ := cmd.Flags().GetString("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrap(err, "runs export: create file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return exportRecords(out, recs)
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsExportCmd.Flags().String("city", "", "only export records of this city")
	runsExportCmd.Flags().String("analysis", "", "only export records of this analysis")
	runsExportCmd.Flags().String("out", "", "write CSV to this file instead of stdout")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExportCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tCITIES\tYEARS\tUNITS\tFAILED\tLOW_CONF\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-----\t-----\t------\t--------\t-------\t--------")

	for _, r := range runs {
		units, failed, low, dur := "-", "-", "-", "-"
		if r.Summary != nil {
			units = strconv.Itoa(r.Summary.Units)
			failed = strconv.Itoa(r.Summary.Failed)
			low = strconv.Itoa(r.Summary.LowConfidence)
			dur = r.Summary.Duration.Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			len(r.Cities),
			yearSpan(r.Years),
			units,
			failed,
			low,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func yearSpan(years []int) string {
	if len(years) == 0 {
		return "-"
	}
	lo, hi := years[0], years[0]
	for _, y := range years {
		lo = min(lo, y)
		hi = max(hi, y)
	}
	if lo == hi {
		return strconv.Itoa(lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// recordRow is the flat CSV view of a Record. Optional and non-finite
// numbers are rendered as text so blanks and Infinity survive the export.
type recordRow struct {
	RunID             string `csv:"run_id"`
	City              string `csv:"city"`
	Year              int    `csv:"year"`
	Analysis          string `csv:"analysis"`
	Period            string `csv:"period"`
	Mean              string `csv:"mean"`
	StdDev            string `csv:"std_dev"`
	Count             int64  `csv:"count"`
	StdError          string `csv:"std_error"`
	CILow             string `csv:"ci_low"`
	CIHigh            string `csv:"ci_high"`
	Reliability       string `csv:"reliability"`
	UrbanRuralRatio   string `csv:"urban_rural_ratio"`
	Intensity         string `csv:"suhi_intensity"`
	IntensitySE       string `csv:"suhi_se"`
	Slope             string `csv:"trend_slope"`
	PValue            string `csv:"trend_p_value"`
	Significant       string `csv:"trend_significant"`
	ChangeAbsolute    string `csv:"change_absolute"`
	ChangePercent     string `csv:"change_percent"`
	BuiltPatches      string `csv:"built_patches"`
	VegetationPatches string `csv:"vegetation_patches"`
	LowConfidence     bool   `csv:"low_confidence"`
	ComputationFailed bool   `csv:"computation_failed"`
	Error             string `csv:"error"`
	Warning           string `csv:"warning"`
	Note              string `csv:"note"`
}

func toRow(r model.Record) recordRow {
	row := recordRow{
		RunID:             r.RunID,
		City:              r.City,
		Year:              r.Year,
		Analysis:          string(r.Analysis),
		Period:            r.Period,
		LowConfidence:     r.LowConfidence,
		ComputationFailed: r.ComputationFailed,
		Error:             r.Error,
		Warning:           r.Warning,
		Note:              r.Note,
		UrbanRuralRatio:   numPtr(r.UrbanRuralRatio),
	}
	if s := r.Stats; s != nil {
		row.Mean = numPtr(s.Mean)
		row.StdDev = numPtr(s.StdDev)
		row.Count = s.Count
	}
	if u := r.Uncertainty; u != nil {
		row.StdError = numPtr(u.StdError)
		if u.CI95 != nil {
			row.CILow, row.CIHigh = num(u.CI95[0]), num(u.CI95[1])
		}
		row.Reliability = u.Reliability
	}
	if s := r.SUHI; s != nil {
		row.Intensity = num(s.Intensity)
		row.IntensitySE = num(s.SE)
		row.CILow, row.CIHigh = num(s.CI95[0]), num(s.CI95[1])
	}
	if t := r.Trend; t != nil {
		row.Slope = num(t.Slope)
		row.PValue = numPtr(t.PValue)
		row.Significant = strconv.FormatBool(t.IsSignificant)
		row.CILow, row.CIHigh = num(t.CI95[0]), num(t.CI95[1])
	}
	if c := r.Change; c != nil {
		row.ChangeAbsolute = numPtr(c.Absolute)
		row.ChangePercent = numPtr(c.Percent)
	}
	if f := r.Fragmentation; f != nil {
		row.BuiltPatches = strconv.Itoa(f.Built.Count)
		row.VegetationPatches = strconv.Itoa(f.Vegetation.Count)
	}
	return row
}

func num(f model.Float) string {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func numPtr(f *model.Float) string {
	if f == nil {
		return ""
	}
	return num(*f)
}

// exportRecords writes recs as CSV with a header row.
func exportRecords(w io.Writer, recs []model.Record) error {
	rows := make([]recordRow, len(recs))
	for i, r := range recs {
		rows[i] = toRow(r)
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return eris.Wrap(err, "write records csv")
	}
	return nil
}
