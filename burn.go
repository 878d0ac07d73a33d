package landmask

import (
	"context"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

type edge struct {
	x0, y0, x1, y1 float64
	shape          int32
}

type crossing struct {
	shape int32
	x     float64
}

// burner rasterizes polygons onto a grid. A pixel is covered when its center
// falls inside a shape under the even-odd rule; overlapping shapes are merged.
// With allTouched, pixels crossed by any polygon edge are covered as well.
type burner struct {
	grid       Grid
	edges      []edge
	allTouched bool
}

func newBurner(g Grid, shapes []orb.MultiPolygon, allTouched bool) *burner {
	b := &burner{grid: g, allTouched: allTouched}
	for i, mp := range shapes {
		for _, poly := range mp {
			for _, ring := range poly {
				n := len(ring)
				for k := 0; k < n; k++ {
					p, q := ring[k], ring[(k+1)%n]
					if p == q {
						continue
					}
					b.edges = append(b.edges, edge{x0: p[0], y0: p[1], x1: q[0], y1: q[1], shape: int32(i)})
				}
			}
		}
	}
	return b
}

func clampIndex(v float64, lo, hi int) int {
	if v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}

// burnStrip sets mask[(r-y0)*W+c] for every covered pixel of rows [y0,y0+h).
func (b *burner) burnStrip(ctx context.Context, y0, h int, mask []bool) error {
	g := b.grid
	buckets := make([][]int32, h)
	for i, e := range b.edges {
		ymin, ymax := math.Min(e.y0, e.y1), math.Max(e.y0, e.y1)
		rtop := math.Floor((g.OriginY - ymax) / g.Resolution)
		rbot := math.Floor((g.OriginY - ymin) / g.Resolution)
		if rbot < float64(y0) || rtop > float64(y0+h-1) {
			continue
		}
		r0 := clampIndex(rtop, y0, y0+h-1)
		r1 := clampIndex(rbot, y0, y0+h-1)
		for r := r0; r <= r1; r++ {
			buckets[r-y0] = append(buckets[r-y0], int32(i))
		}
	}
	var xs []crossing
	for ry := 0; ry < h; ry++ {
		if ry%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row := mask[ry*g.Width : (ry+1)*g.Width]
		cy := g.OriginY - (float64(y0+ry)+0.5)*g.Resolution
		xs = xs[:0]
		for _, ei := range buckets[ry] {
			e := &b.edges[ei]
			if (e.y0 <= cy && e.y1 > cy) || (e.y1 <= cy && e.y0 > cy) {
				xs = append(xs, crossing{shape: e.shape, x: e.x0 + (cy-e.y0)*(e.x1-e.x0)/(e.y1-e.y0)})
			}
		}
		sort.Slice(xs, func(i, j int) bool {
			if xs[i].shape != xs[j].shape {
				return xs[i].shape < xs[j].shape
			}
			return xs[i].x < xs[j].x
		})
		for i := 0; i+1 < len(xs); {
			if xs[i].shape != xs[i+1].shape {
				i++
				continue
			}
			c0 := clampIndex(math.Ceil((xs[i].x-g.OriginX)/g.Resolution-0.5), 0, g.Width)
			c1 := clampIndex(math.Ceil((xs[i+1].x-g.OriginX)/g.Resolution-0.5), 0, g.Width)
			for c := c0; c < c1; c++ {
				row[c] = true
			}
			i += 2
		}
		if b.allTouched {
			b.touchRow(y0+ry, buckets[ry], row)
		}
	}
	return nil
}

// touchRow marks the pixels of row r crossed by the given edges.
func (b *burner) touchRow(r int, edges []int32, row []bool) {
	g := b.grid
	yt := g.OriginY - float64(r)*g.Resolution
	yb := yt - g.Resolution
	for _, ei := range edges {
		e := &b.edges[ei]
		var xa, xb float64
		if e.y0 == e.y1 {
			if e.y0 < yb || e.y0 > yt {
				continue
			}
			xa, xb = e.x0, e.x1
		} else {
			t0 := math.Max(0, math.Min(1, (yb-e.y0)/(e.y1-e.y0)))
			t1 := math.Max(0, math.Min(1, (yt-e.y0)/(e.y1-e.y0)))
			xa = e.x0 + t0*(e.x1-e.x0)
			xb = e.x0 + t1*(e.x1-e.x0)
		}
		if xa > xb {
			xa, xb = xb, xa
		}
		fa := math.Floor((xa - g.OriginX) / g.Resolution)
		fb := math.Floor((xb - g.OriginX) / g.Resolution)
		if fb < 0 || fa >= float64(g.Width) {
			continue
		}
		c0 := clampIndex(fa, 0, g.Width-1)
		c1 := clampIndex(fb, 0, g.Width-1)
		for c := c0; c <= c1; c++ {
			row[c] = true
		}
	}
}

// burnOptions drives burnMask.
type burnOptions struct {
	semantic   NodataSemantic
	allTouched bool
	workers    int
	stripper   Stripper
}

// burnMask writes land, water and outside values into ras, strip by strip.
func burnMask(ctx context.Context, ras *Raster, land []orb.MultiPolygon, aoi orb.MultiPolygon, o burnOptions) error {
	lb := newBurner(ras.Grid, land, o.allTouched)
	// all-touched widens the land only, the AOI keeps the pixel-centre rule
	ab := newBurner(ras.Grid, []orb.MultiPolygon{aoi}, false)
	outside := Water
	if o.semantic == NodataWater {
		outside = Outside
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.workers, 1))
	for _, strip := range o.stripper.Pyramid()[0].Strips {
		strip := strip
		g.Go(func() error {
			n := strip.Height * ras.Width
			landMask := make([]bool, n)
			aoiMask := make([]bool, n)
			if err := lb.burnStrip(ctx, strip.TopLeftY, strip.Height, landMask); err != nil {
				return err
			}
			if err := ab.burnStrip(ctx, strip.TopLeftY, strip.Height, aoiMask); err != nil {
				return err
			}
			pix := ras.Pix[strip.TopLeftY*ras.Width : strip.TopLeftY*ras.Width+n]
			for i := range pix {
				switch {
				case !aoiMask[i]:
					pix[i] = outside
				case landMask[i]:
					pix[i] = Land
				default:
					pix[i] = Water
				}
			}
			return nil
		})
	}
	return g.Wait()
}
