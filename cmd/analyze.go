package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/config"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/ensemble"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/pipeline"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/resilience"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/store"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/suhi"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/trend"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/uncertainty"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/pkg/rasterapi"
)

var (
	analyzeCities []string
	analyzeYears  []int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the zonal analysis for cities and years",
	Long:  "Analyzes every selected city-year against the raster backend and stores SUHI, night-light, vegetation, land-cover, change and trend records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		catalog, err := model.LoadCities(cfg.CitiesFile)
		if err != nil {
			return err
		}
		cities, err := catalog.Select(analyzeCities)
		if err != nil {
			return err
		}
		years := analyzeYears
		if len(years) == 0 {
			years = cfg.Analysis.Years
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner, err := buildRunner(cfg, st)
		if err != nil {
			return err
		}

		run, err := runner.Run(ctx, cities, years)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		fmt.Fprintf(os.Stdout, "run %s %s: %d units, %d succeeded, %d failed, %d low confidence\n",
			run.ID, run.Status,
			run.Summary.Units, run.Summary.Succeeded, run.Summary.Failed, run.Summary.LowConfidence)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeCities, "cities", nil, "cities to analyze (default all)")
	analyzeCmd.Flags().IntSliceVar(&analyzeYears, "years", nil, "years to analyze (default from config)")
	rootCmd.AddCommand(analyzeCmd)
}

// buildRunner wires the backend client, guarded reducer and analyzers.
// Every backend call shares one throttle and one circuit breaker.
func buildRunner(c *config.Config, st store.Store) (*pipeline.Runner, error) {
	client := rasterapi.NewClient(
		rasterapi.WithBaseURL(c.Backend.BaseURL),
		rasterapi.WithToken(c.Backend.Token),
	)

	throttle := reduce.NewThrottle(time.Duration(c.Throttle.MinIntervalMs)*time.Millisecond, reduce.WallClock)
	breaker := resilience.NewBreaker("raster-backend", c.Circuit.Threshold,
		time.Duration(c.Circuit.CooldownSecs)*time.Second, resilience.IsTransient)
	guard := reduce.NewGuard(client, throttle,
		reduce.WithPolicy(resilience.PolicyFrom(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs, c.Retry.Multiplier)),
		reduce.WithBreaker(breaker),
		reduce.WithTimeouts(timeoutsFrom(c.Backend)),
	)

	dist, ok := trend.ByName(c.Analysis.TDistribution)
	if !ok {
		return nil, eris.Errorf("unknown t distribution: %s", c.Analysis.TDistribution)
	}

	svc := uncertainty.NewService(guard)
	classifier := ensemble.NewClassifier(svc,
		ensemble.WithPrimary(c.Analysis.PrimarySource, c.Analysis.PrimaryWeight),
		ensemble.WithThreshold(c.Analysis.MaskThreshold),
		ensemble.WithMinUrbanPixels(c.Analysis.MinUrbanPixels),
	)
	analyzer := pipeline.NewAnalyzer(client, svc, classifier, suhi.NewAnalyzer(svc),
		trend.NewAnalyzer(dist, c.Analysis.ConfidenceLevel), settingsFrom(c.Analysis))

	zap.L().Info("analysis configured",
		zap.String("backend", c.Backend.BaseURL),
		zap.Duration("throttle", throttle.Interval()),
		zap.String("t_distribution", dist.Name()),
		zap.Int("concurrency", c.Batch.MaxConcurrentCities),
	)
	return pipeline.NewRunner(analyzer, st, c.Batch.MaxConcurrentCities), nil
}

func timeoutsFrom(b config.BackendConfig) reduce.Timeouts {
	t := reduce.DefaultTimeouts()
	if b.ScalarTimeoutSecs > 0 {
		t.Scalar = time.Duration(b.ScalarTimeoutSecs) * time.Second
	}
	if b.HistogramTimeoutSecs > 0 {
		t.Histogram = time.Duration(b.HistogramTimeoutSecs) * time.Second
	}
	if b.HeavyTimeoutSecs > 0 {
		t.Heavy = time.Duration(b.HeavyTimeoutSecs) * time.Second
	}
	return t
}

func settingsFrom(a config.AnalysisConfig) pipeline.Settings {
	return pipeline.Settings{
		LSTScale:        a.LSTScale,
		NightLightScale: a.NightLightScale,
		VegetationScale: a.VegetationScale,
		LandCoverScale:  a.LandCoverScale,
		AirQualityScale: a.AirQualityScale,
		RuralBufferKM:   a.RuralBufferKM,
		ErosionM:        a.ErosionM,
		Pollutants:      a.Pollutants,
	}
}
