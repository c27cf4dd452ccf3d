// Package fragment measures the patch structure of built-up and vegetated
// land inside a region: patch count and size, edge density and isolation.
package fragment

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// Patches summarizes the 4-connected patches of one binary mask.
type Patches struct {
	Count        int
	TotalAreaM2  float64
	MeanAreaM2   float64
	MedianAreaM2 float64
	// EdgeDensity is patch perimeter in meters per km² of region.
	EdgeDensity float64
	// IsolationM is the mean distance from each patch centroid to its
	// nearest neighbour. Nil with fewer than two patches.
	IsolationM *float64
}

// Result holds the built-up and vegetation patch statistics of one grid.
type Result struct {
	Source     string
	Built      Patches
	Vegetation Patches
	RegionKm2  float64
}

// Analyze labels the built-up and vegetation classes of a land-cover grid
// within region. Pixels outside the region or without data belong to
// neither mask.
func Analyze(img raster.Image, region zone.Region) (Result, error) {
	g := img.Local
	if g == nil {
		return Result{}, eris.Errorf("fragment: image %s has no pixel grid", img.ID)
	}
	if err := g.Validate(); err != nil {
		return Result{}, eris.Wrap(err, "fragment: grid")
	}
	scheme, err := raster.SchemeFor(img.Source)
	if err != nil {
		return Result{}, eris.Wrap(err, "fragment: classes")
	}
	areaKm2 := region.AreaM2() / 1e6
	if areaKm2 <= 0 {
		return Result{}, eris.Errorf("fragment: region %q has no area", region.Name)
	}

	inside := make([]bool, len(g.Values))
	bound := region.Bound()
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			lon, lat := g.Center(x, y)
			p := orb.Point{lon, lat}
			inside[y*g.Width+x] = bound.Contains(p) && region.Contains(p)
		}
	}
	mask := func(keep func(code int) bool) []bool {
		m := make([]bool, len(g.Values))
		for i, v := range g.Values {
			if inside[i] && !math.IsNaN(v) {
				m[i] = keep(int(math.Round(v)))
			}
		}
		return m
	}

	return Result{
		Source:     img.Source,
		Built:      Measure(g, mask(func(c int) bool { return c == scheme.Built }), areaKm2),
		Vegetation: Measure(g, mask(scheme.IsVegetation), areaKm2),
		RegionKm2:  areaKm2,
	}, nil
}

// Label assigns 4-connected components of the true pixels of mask. Labels
// start at 1; 0 marks background. It returns the labels and the component count.
func Label(width, height int, mask []bool) ([]int, int) {
	labels := make([]int, len(mask))
	n := 0
	stack := make([]int, 0, 64)
	for start, on := range mask {
		if !on || labels[start] != 0 {
			continue
		}
		n++
		labels[start] = n
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%width, i/width
			for _, j := range neighbours(x, y, width, height) {
				if j >= 0 && mask[j] && labels[j] == 0 {
					labels[j] = n
					stack = append(stack, j)
				}
			}
		}
	}
	return labels, n
}

// neighbours returns the left, right, up and down indices, -1 off the grid.
func neighbours(x, y, width, height int) [4]int {
	out := [4]int{-1, -1, -1, -1}
	if x > 0 {
		out[0] = y*width + x - 1
	}
	if x < width-1 {
		out[1] = y*width + x + 1
	}
	if y > 0 {
		out[2] = (y-1)*width + x
	}
	if y < height-1 {
		out[3] = (y+1)*width + x
	}
	return out
}

// pixelSize returns the ground width and height in meters of the pixel at row y.
func pixelSize(g *raster.Grid, y int) (w, h float64) {
	lon, lat := g.Center(0, y)
	half := g.PixelSize / 2
	w = geo.Distance(orb.Point{lon - half, lat}, orb.Point{lon + half, lat})
	h = geo.Distance(orb.Point{lon, lat - half}, orb.Point{lon, lat + half})
	return w, h
}

// Measure computes patch statistics of mask over grid g. regionKm2 is the
// area edge density is normalised by.
func Measure(g *raster.Grid, mask []bool, regionKm2 float64) Patches {
	labels, n := Label(g.Width, g.Height, mask)
	if n == 0 {
		return Patches{}
	}

	areas := make([]float64, n)
	sumLon := make([]float64, n)
	sumLat := make([]float64, n)
	pixels := make([]int, n)
	perimeter := 0.0
	for y := 0; y < g.Height; y++ {
		w, h := pixelSize(g, y)
		for x := 0; x < g.Width; x++ {
			i := y*g.Width + x
			l := labels[i]
			if l == 0 {
				continue
			}
			k := l - 1
			areas[k] += w * h
			lon, lat := g.Center(x, y)
			sumLon[k] += lon
			sumLat[k] += lat
			pixels[k]++
			for side, j := range neighbours(x, y, g.Width, g.Height) {
				if j >= 0 && mask[j] {
					continue
				}
				if side < 2 {
					perimeter += h
				} else {
					perimeter += w
				}
			}
		}
	}

	p := Patches{Count: n}
	for _, a := range areas {
		p.TotalAreaM2 += a
	}
	p.MeanAreaM2 = p.TotalAreaM2 / float64(n)
	sorted := append([]float64(nil), areas...)
	sort.Float64s(sorted)
	p.MedianAreaM2 = sorted[n/2]
	if regionKm2 > 0 {
		p.EdgeDensity = perimeter / regionKm2
	}

	if n > 1 {
		centroids := make([]orb.Point, n)
		for k := range centroids {
			centroids[k] = orb.Point{sumLon[k] / float64(pixels[k]), sumLat[k] / float64(pixels[k])}
		}
		iso := meanNearest(centroids)
		p.IsolationM = &iso
	}
	return p
}

func meanNearest(pts []orb.Point) float64 {
	total := 0.0
	for i, a := range pts {
		nearest := math.Inf(1)
		for j, b := range pts {
			if i == j {
				continue
			}
			if d := geo.DistanceHaversine(a, b); d < nearest {
				nearest = d
			}
		}
		total += nearest
	}
	return total / float64(len(pts))
}
