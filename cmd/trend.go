package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/pipeline"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/trend"
)

var (
	trendLevel        float64
	trendDistribution string
)

var trendCmd = &cobra.Command{
	Use:   "trend <file.csv>",
	Short: "Fit a linear trend to a year,value CSV series",
	Long:  "Reads a CSV with year and value columns (\"-\" for stdin) and prints the OLS trend record with its significance test as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := io.Reader(os.Stdin)
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "open series")
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		pts, err := readPoints(in)
		if err != nil {
			return err
		}

		name := trendDistribution
		if name == "" {
			name = cfg.Analysis.TDistribution
		}
		dist, ok := trend.ByName(name)
		if !ok {
			return eris.Errorf("unknown t distribution: %s", name)
		}
		level := trendLevel
		if level == 0 {
			level = cfg.Analysis.ConfidenceLevel
		}

		return writeTrend(os.Stdout, trend.NewAnalyzer(dist, level).Fit(pts))
	},
}

func init() {
	trendCmd.Flags().Float64Var(&trendLevel, "level", 0, "confidence level (default from config)")
	trendCmd.Flags().StringVar(&trendDistribution, "distribution", "", "t distribution: exact or approximate (default from config)")
	rootCmd.AddCommand(trendCmd)
}

// readPoints parses a year,value CSV series.
func readPoints(r io.Reader) ([]trend.Point, error) {
	var pts []trend.Point
	if err := gocsv.Unmarshal(r, &pts); err != nil {
		return nil, eris.Wrap(err, "parse series csv")
	}
	return pts, nil
}

func writeTrend(w io.Writer, res trend.Result) error {
	rec := model.Record{Analysis: model.AnalysisTrend}
	if res.Insufficient {
		rec.Warning = res.Reason
	} else {
		rec.Trend = pipeline.TrendDTO(res)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
