// Package api serves stored analysis results to the reporting layer over a
// read-only JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/pipeline"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/store"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/trend"
)

// maxRecords bounds the rows scanned for one response.
const maxRecords = 5000

// Server exposes runs and records from a Store.
type Server struct {
	store  store.Store
	cities *model.Cities
	trend  *trend.Analyzer
}

// NewServer creates a Server. cities may be nil to skip city validation.
func NewServer(st store.Store, cities *model.Cities, tr *trend.Analyzer) *Server {
	if tr == nil {
		tr = trend.NewAnalyzer(nil, 0.95)
	}
	return &Server{store: st, cities: cities, trend: tr}
}

// Handler returns the router. allowedOrigins configures CORS; empty allows any origin.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
		r.Get("/cities", s.listCities)
		r.Get("/cities/{city}/records", s.cityRecords)
		r.Get("/cities/{city}/trend", s.cityTrend)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{Status: model.RunStatus(r.URL.Query().Get("status")), Limit: limit})
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listCities(w http.ResponseWriter, r *http.Request) {
	if s.cities == nil {
		writeJSON(w, http.StatusOK, []model.City{})
		return
	}
	writeJSON(w, http.StatusOK, s.cities.All())
}

// city resolves the {city} parameter to its catalog name.
func (s *Server) city(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "city")
	if s.cities == nil {
		return name, true
	}
	c, err := s.cities.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown city")
		return "", false
	}
	return c.Name, true
}

func intParam(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) cityRecords(w http.ResponseWriter, r *http.Request) {
	city, ok := s.city(w, r)
	if !ok {
		return
	}
	year, err := intParam(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	q := r.URL.Query()
	recs, err := s.store.ListRecords(r.Context(), store.RecordFilter{
		RunID:    q.Get("run"),
		City:     city,
		Analysis: model.Analysis(q.Get("analysis")),
		Period:   q.Get("period"),
		Year:     year,
		Limit:    maxRecords,
	})
	if err != nil {
		zap.L().Error("api: list records", zap.String("city", city), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// cityTrend fits a trend over the stored yearly values of one analysis.
// The newest record per year wins.
func (s *Server) cityTrend(w http.ResponseWriter, r *http.Request) {
	city, ok := s.city(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	analysis := model.Analysis(q.Get("analysis"))
	if analysis == "" {
		analysis = model.AnalysisSUHIDay
	}
	switch analysis {
	case model.AnalysisSUHIDay, model.AnalysisSUHINight, model.AnalysisNightLights, model.AnalysisVegetation:
	case model.AnalysisAirQuality:
		if q.Get("period") == "" {
			writeError(w, http.StatusBadRequest, "air quality trend needs a pollutant period")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "analysis has no yearly value")
		return
	}

	recs, err := s.store.ListRecords(r.Context(), store.RecordFilter{
		City:     city,
		Analysis: analysis,
		Period:   q.Get("period"),
		Limit:    maxRecords,
	})
	if err != nil {
		zap.L().Error("api: list records", zap.String("city", city), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	pts := yearlyPoints(recs)
	out := model.Record{City: city, Analysis: model.AnalysisTrend, Period: string(analysis)}
	res := s.trend.Fit(pts)
	if res.Insufficient {
		out.Warning = res.Reason
	} else {
		out.Trend = pipeline.TrendDTO(res)
	}
	writeJSON(w, http.StatusOK, out)
}

// yearlyPoints extracts one finite value per year: SUHI intensity for heat
// records, the urban-core mean otherwise.
func yearlyPoints(recs []model.Record) []trend.Point {
	latest := make(map[int]model.Record)
	for _, rec := range recs {
		if rec.Failed() || rec.Year == 0 {
			continue
		}
		if prev, ok := latest[rec.Year]; ok && prev.CreatedAt.After(rec.CreatedAt) {
			continue
		}
		latest[rec.Year] = rec
	}

	pts := make([]trend.Point, 0, len(latest))
	for year, rec := range latest {
		var v float64
		switch {
		case rec.SUHI != nil:
			v = float64(rec.SUHI.Intensity)
		case rec.Stats != nil && rec.Stats.Mean != nil:
			v = float64(*rec.Stats.Mean)
		default:
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, trend.Point{Year: year, Value: v})
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Year < pts[j].Year })
	return pts
}
