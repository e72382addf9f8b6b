// Package thumbnail renders RGB preview rasters from resolved multiscale
// images.
package thumbnail

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ngff-gallery/server/internal/data/ngff"
	"github.com/ngff-gallery/server/internal/data/zarr"
	"github.com/ngff-gallery/server/pkg/compositor"
)

// Request describes one thumbnail rendering.
type Request struct {
	// Root is the effective image root from multiscale resolution.
	Root string
	// Image is the resolved multiscale descriptor.
	Image *ngff.Multiscale
	// Omero carries optional per-channel display hints.
	Omero *ngff.Omero
	// Level picks a resolution level explicitly; out-of-range values
	// (including the -1 default) select the lowest-resolution level.
	Level int
	// PixelBudget caps the source plane: planes with more than
	// PixelBudget squared pixels produce no thumbnail.
	PixelBudget int
	// PlaneIndex overrides the slice index of a non-spatial, non-channel
	// axis by name. Axes not listed use their midpoint.
	PlaneIndex map[string]int
}

// Raster is a rendered thumbnail: row-major RGBA bytes.
type Raster struct {
	Pix    []byte
	Width  int
	Height int
}

// Generator renders thumbnails against a remote store.
type Generator struct {
	store zarr.Store
}

func NewGenerator(store zarr.Store) *Generator {
	return &Generator{store: store}
}

// Generate renders a thumbnail for a resolved image. A nil raster with a nil
// error means the request was guard-rejected (no resolution levels, or the
// plane exceeds the pixel budget); callers show no thumbnail. Fetch and
// format failures are returned as errors.
func (g *Generator) Generate(ctx context.Context, req Request) (*Raster, error) {
	if req.Image == nil || len(req.Image.Datasets) == 0 {
		return nil, nil
	}

	levels := req.Image.Datasets
	level := len(levels) - 1
	if req.Level >= 0 && req.Level < len(levels) {
		level = req.Level
	}

	arr, err := zarr.OpenArray(ctx, g.store, zarr.JoinPath(req.Root, levels[level].Path))
	if err != nil {
		return nil, fmt.Errorf("open level %d: %w", level, err)
	}
	defer arr.Close()

	shape := arr.Shape()
	if len(shape) < 2 {
		return nil, nil
	}
	height := shape[len(shape)-2]
	width := shape[len(shape)-1]
	if req.PixelBudget > 0 && height*width > req.PixelBudget*req.PixelBudget {
		// Deliberate empty result: never fetch oversized planes.
		return nil, nil
	}

	chAxis := channelAxis(req.Image.Axes, len(shape))
	channelCount := 1
	if chAxis >= 0 {
		channelCount = shape[chAxis]
	}
	if channelCount == 0 {
		return nil, nil
	}

	visible, colors, err := channelDisplay(req.Omero, channelCount)
	if err != nil {
		return nil, err
	}

	var indices []int
	for i, v := range visible {
		if v {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return nil, nil
	}

	// Fetch all visible channel planes concurrently.
	planes := make([][]float64, len(indices))
	grp, gctx := errgroup.WithContext(ctx)
	for slot, ci := range indices {
		slot, ci := slot, ci
		sel := g.selection(req, shape, chAxis, ci)
		grp.Go(func() error {
			data, _, err := arr.Read(gctx, sel)
			if err != nil {
				return fmt.Errorf("read channel %d: %w", ci, err)
			}
			planes[slot] = data
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	ranges := make([][2]float64, len(indices))
	usedColors := make([]compositor.RGB, len(indices))
	for slot, ci := range indices {
		if len(planes[slot]) == 0 {
			return nil, nil
		}
		lo, hi := compositor.ScanRange(planes[slot])
		ranges[slot] = [2]float64{lo, hi}
		usedColors[slot] = colors[ci]
	}

	pix, err := compositor.CompositeChannels(planes, ranges, usedColors)
	if err != nil {
		return nil, err
	}
	return &Raster{Pix: pix, Width: width, Height: height}, nil
}

// selection builds the per-axis slice: full extent on the trailing two
// spatial axes, the channel index on the channel axis, and the midpoint (or
// requested plane) elsewhere.
func (g *Generator) selection(req Request, shape []int, chAxis, channel int) []zarr.Slice {
	sel := make([]zarr.Slice, len(shape))
	for d := range shape {
		switch {
		case d >= len(shape)-2:
			sel[d] = zarr.Full()
		case d == chAxis:
			sel[d] = zarr.Index(channel)
		default:
			idx := shape[d] / 2
			if name := axisName(req.Image.Axes, len(shape), d); name != "" {
				if v, ok := req.PlaneIndex[name]; ok && v >= 0 && v < shape[d] {
					idx = v
				}
			}
			sel[d] = zarr.Index(idx)
		}
	}
	return sel
}

// channelAxis locates the channel axis by name, or -1 for a single implicit
// channel.
func channelAxis(axes []ngff.Axis, ndim int) int {
	if len(axes) != ndim {
		return -1
	}
	for i, ax := range axes {
		if ax.Name == "c" || ax.Type == "channel" {
			return i
		}
	}
	return -1
}

func axisName(axes []ngff.Axis, ndim, d int) string {
	if len(axes) != ndim || d >= len(axes) {
		return ""
	}
	return axes[d].Name
}

// channelDisplay derives per-channel visibility and colors from omero hints
// when present, else from the default policy. A malformed hint color is a
// hard error: it signals a data-quality problem in the source descriptor.
func channelDisplay(omero *ngff.Omero, channelCount int) ([]bool, []compositor.RGB, error) {
	visible := compositor.DefaultVisibility(channelCount)
	colors := compositor.DefaultColors(channelCount, visible)

	if omero == nil || len(omero.Channels) != channelCount {
		return visible, colors, nil
	}
	for i, ch := range omero.Channels {
		if ch.Active != nil {
			visible[i] = *ch.Active
		}
		if ch.Color != "" {
			c, err := compositor.HexToColor(ch.Color)
			if err != nil {
				return nil, nil, fmt.Errorf("channel %d: %w", i, err)
			}
			colors[i] = c
		}
	}
	return visible, colors, nil
}
