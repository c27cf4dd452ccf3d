package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	srv := httptest.NewServer(NewServer(st, model.NewCities(model.DefaultCities()), nil).Handler(nil))
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func suhiRecord(year int, intensity float64) model.Record {
	return model.Record{
		RunID: "r1", City: "Tashkent", Year: year, Analysis: model.AnalysisSUHIDay, Period: "day",
		SUHI: &model.SUHI{Intensity: model.Float(intensity), SE: 0.1, CI95: model.NewInterval(intensity-0.2, intensity+0.2)},
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestGetRun(t *testing.T) {
	srv, st := newTestServer(t)
	run, err := st.CreateRun(context.Background(), []string{"Tashkent"}, []int{2020})
	require.NoError(t, err)

	var got model.Run
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/runs/"+run.ID, &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, []string{"Tashkent"}, got.Cities)

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/runs/missing", &errBody))
	assert.Equal(t, "run not found", errBody["error"])
}

func TestListRuns(t *testing.T) {
	srv, st := newTestServer(t)
	var runs []model.Run
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/runs", &runs))
	assert.Empty(t, runs)

	_, err := st.CreateRun(context.Background(), []string{"Nukus"}, []int{2020})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/runs?status=running", &runs))
	assert.Len(t, runs, 1)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/runs?limit=abc", nil))
}

func TestListCities(t *testing.T) {
	srv, _ := newTestServer(t)
	var cities []model.City
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/cities", &cities))
	assert.Len(t, cities, len(model.DefaultCities()))
}

func TestCityRecords(t *testing.T) {
	srv, st := newTestServer(t)
	inf := suhiRecord(2021, 0)
	inf.SUHI.SE = model.Inf()
	require.NoError(t, st.SaveRecords(context.Background(), []model.Record{
		suhiRecord(2020, 5.4),
		inf,
		{RunID: "r1", City: "Tashkent", Year: 2020, Analysis: model.AnalysisLandCover, Error: "missing input"},
	}))

	var recs []model.Record
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/cities/tashkent/records?analysis=suhi_day", &recs))
	require.Len(t, recs, 2)
	assert.InDelta(t, 5.4, float64(recs[0].SUHI.Intensity), 1e-12)
	assert.True(t, recs[1].SUHI.SE.IsInf(1))

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/cities/Tashkent/records?year=2020", &recs))
	assert.Len(t, recs, 2)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/cities/Atlantis/records", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/cities/Tashkent/records?year=x", nil))
}

func TestCityTrend(t *testing.T) {
	srv, st := newTestServer(t)
	var recs []model.Record
	for i, year := range []int{2016, 2017, 2018, 2019, 2020} {
		recs = append(recs, suhiRecord(year, 4+0.2*float64(i)))
	}
	stale := suhiRecord(2020, 99)
	stale.CreatedAt = time.Now().Add(-time.Hour)
	recs = append(recs, stale)
	require.NoError(t, st.SaveRecords(context.Background(), recs))

	var out model.Record
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/cities/Tashkent/trend?analysis=suhi_day&period=day", &out))
	require.NotNil(t, out.Trend)
	assert.InDelta(t, 0.2, float64(out.Trend.Slope), 1e-9)
	assert.Equal(t, 5, out.Trend.N)
	assert.Equal(t, "increasing", out.Trend.Direction)
	assert.Equal(t, string(model.AnalysisSUHIDay), out.Period)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/cities/Nukus/trend", &out))
	assert.Nil(t, out.Trend)
	assert.Equal(t, "insufficient data", out.Warning)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/cities/Tashkent/trend?analysis=land_cover", nil))
}

func TestCityTrendAirQuality(t *testing.T) {
	srv, st := newTestServer(t)
	var recs []model.Record
	for i, year := range []int{2019, 2020, 2021, 2022} {
		no2 := model.Float(50 + 2*float64(i))
		co := model.Float(900 - 10*float64(i))
		recs = append(recs,
			model.Record{RunID: "r1", City: "Tashkent", Year: year, Analysis: model.AnalysisAirQuality, Period: "NO2", Stats: &model.Stats{Mean: &no2, Count: 40}},
			model.Record{RunID: "r1", City: "Tashkent", Year: year, Analysis: model.AnalysisAirQuality, Period: "CO", Stats: &model.Stats{Mean: &co, Count: 40}},
		)
	}
	require.NoError(t, st.SaveRecords(context.Background(), recs))

	var out model.Record
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/cities/Tashkent/trend?analysis=air_quality&period=NO2", &out))
	require.NotNil(t, out.Trend)
	assert.InDelta(t, 2.0, float64(out.Trend.Slope), 1e-9)
	assert.Equal(t, 4, out.Trend.N)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/cities/Tashkent/trend?analysis=air_quality", nil))
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestYearlyPoints(t *testing.T) {
	mean := model.Float(12.5)
	recs := []model.Record{
		{Year: 2018, Stats: &model.Stats{Mean: &mean, Count: 10}},
		{Year: 2019, SUHI: &model.SUHI{Intensity: model.Inf()}},
		{Year: 2020, Error: "boom"},
		{Year: 0, Stats: &model.Stats{Mean: &mean}},
	}
	pts := yearlyPoints(recs)
	require.Len(t, pts, 1)
	assert.Equal(t, 2018, pts[0].Year)
	assert.Equal(t, 12.5, pts[0].Value)
}
