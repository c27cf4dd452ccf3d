// Package rasterapi is a client for the remote raster-analytics backend. It
// serves zonal reductions and the per city-year image catalog.
package rasterapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/resilience"
)

const defaultBaseURL = "http://localhost:8085"

// Client talks to the raster backend over HTTP JSON.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	registry *raster.Registry
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the backend URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRegistry sets the band registry used to type catalog images.
func WithRegistry(r *raster.Registry) Option {
	return func(c *Client) { c.registry = r }
}

// NewClient creates a backend client. Call timeouts are enforced by the
// caller's context; the HTTP timeout only bounds stuck connections.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		registry: raster.DefaultRegistry(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type reduceRequest struct {
	Image      raster.Image      `json:"image"`
	Region     *geojson.Geometry `json:"region"`
	RegionName string            `json:"regionName"`
	Reducer    reduce.Kind       `json:"reducer"`
	Scale      float64           `json:"scale"`
	MaxPixels  float64           `json:"maxPixels"`
	BestEffort bool              `json:"bestEffort"`
	TileScale  int               `json:"tileScale,omitempty"`
}

type reduceResponse struct {
	Result map[string]any `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Reduce implements reduce.Reducer.
func (c *Client) Reduce(ctx context.Context, req reduce.Request) (reduce.Response, error) {
	if len(req.Region.Polygon) == 0 {
		return nil, eris.Errorf("rasterapi: region %q has no geometry", req.Region.Name)
	}
	body := reduceRequest{
		Image:      req.Image,
		Region:     geojson.NewGeometry(req.Region.Polygon),
		RegionName: req.Region.Name,
		Reducer:    req.Kind,
		Scale:      req.Scale,
		MaxPixels:  req.MaxPixels,
		BestEffort: req.BestEffort,
		TileScale:  req.TileScale,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "rasterapi: marshal reduce request")
	}

	var out reduceResponse
	err = c.do(ctx, http.MethodPost, "/v1/reduce", nil, bytes.NewReader(payload), &out, func() error {
		return &model.MissingInputError{Input: string(req.Image.Band.Kind), Reason: "image " + req.Image.ID + " not found"}
	})
	if err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, eris.Errorf("rasterapi: empty %s result for %s over %s", req.Kind, req.Image.ID, req.Region.Name)
	}
	return reduce.Response(out.Result), nil
}

// imageRef is the catalog's wire form of an image. Band is a name resolved
// against the registry; Grid carries optional materialized pixels.
type imageRef struct {
	ID     string       `json:"id"`
	Source string       `json:"source"`
	Band   string       `json:"band"`
	Grid   *raster.Grid `json:"grid,omitempty"`
}

type imageResponse struct {
	Image imageRef `json:"image"`
}

type imagesResponse struct {
	Images []imageRef `json:"images"`
}

func (c *Client) resolve(ref imageRef) (raster.Image, error) {
	band, err := c.registry.Resolve(ref.Source, ref.Band)
	if err != nil {
		return raster.Image{}, eris.Wrapf(err, "rasterapi: image %s", ref.ID)
	}
	return raster.Image{ID: ref.ID, Source: ref.Source, Band: band, Local: ref.Grid}, nil
}

// Image looks up the image of dataset for city and year. period selects a
// seasonal or diurnal variant and may be empty.
func (c *Client) Image(ctx context.Context, city string, year int, dataset, period string) (raster.Image, error) {
	q := url.Values{}
	q.Set("city", city)
	q.Set("year", strconv.Itoa(year))
	q.Set("dataset", dataset)
	if period != "" {
		q.Set("period", period)
	}

	input := dataset
	if period != "" {
		input = dataset + "/" + period
	}
	var out imageResponse
	err := c.do(ctx, http.MethodGet, "/v1/catalog/images", q, nil, &out, func() error {
		return &model.MissingInputError{City: city, Year: year, Input: input, Reason: "no raster in catalog"}
	})
	if err != nil {
		return raster.Image{}, err
	}
	return c.resolve(out.Image)
}

// Classifications lists the land-cover classification images available for
// city and year. An empty list is not an error.
func (c *Client) Classifications(ctx context.Context, city string, year int) ([]raster.Image, error) {
	q := url.Values{}
	q.Set("city", city)
	q.Set("year", strconv.Itoa(year))

	var out imagesResponse
	err := c.do(ctx, http.MethodGet, "/v1/catalog/classifications", q, nil, &out, func() error {
		return &model.MissingInputError{City: city, Year: year, Input: "classification", Reason: "no classification source available"}
	})
	if err != nil {
		return nil, err
	}

	images := make([]raster.Image, 0, len(out.Images))
	for _, ref := range out.Images {
		img, err := c.resolve(ref)
		if err != nil {
			zap.L().Warn("rasterapi: skipping classification with unknown band",
				zap.String("city", city),
				zap.Int("year", year),
				zap.String("source", ref.Source),
				zap.Error(err),
			)
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

// do sends one request and decodes a 200 response into out. notFound builds
// the error returned for a 404.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, out any, notFound func() error) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return eris.Wrap(err, "rasterapi: create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrapf(err, "rasterapi: %s %s", method, path)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return resilience.NewTransientError(eris.Wrapf(err, "rasterapi: %s %s", method, path), 0)
		}
		return eris.Wrapf(err, "rasterapi: %s %s", method, path)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, path, notFound)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return eris.Wrapf(err, "rasterapi: decode %s response", path)
	}
	return nil
}

func statusError(resp *http.Response, path string, notFound func() error) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	base := fmt.Errorf("rasterapi: %s: unexpected status %d: %s", path, resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		return notFound()
	case resp.StatusCode == http.StatusRequestEntityTooLarge, reduce.IsResourceExhausted(base):
		return eris.Wrap(reduce.ErrResourceExhausted, base.Error())
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(base, resp.StatusCode)
	}
	return eris.Wrap(base, "rasterapi: request failed")
}
