// Package render encodes composited rasters as PNG thumbnails using
// fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/ngff-gallery/server/internal/thumbnail"
)

// Config contains renderer configuration.
type Config struct {
	// MaxSize bounds both output dimensions; larger rasters are scaled
	// down preserving aspect ratio.
	MaxSize int
}

// ThumbnailRenderer turns rasters into bounded PNG thumbnails.
type ThumbnailRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewThumbnailRenderer creates a new thumbnail renderer.
func NewThumbnailRenderer(cfg Config) *ThumbnailRenderer {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 256
	}
	return &ThumbnailRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// Encode scales a raster to fit within MaxSize and encodes it as PNG.
func (r *ThumbnailRenderer) Encode(raster *thumbnail.Raster) ([]byte, error) {
	if raster == nil || raster.Width <= 0 || raster.Height <= 0 {
		return nil, fmt.Errorf("empty raster")
	}
	if len(raster.Pix) != raster.Width*raster.Height*4 {
		return nil, fmt.Errorf("raster buffer is %d bytes, expected %d",
			len(raster.Pix), raster.Width*raster.Height*4)
	}

	src := &image.RGBA{
		Pix:    raster.Pix,
		Stride: raster.Width * 4,
		Rect:   image.Rect(0, 0, raster.Width, raster.Height),
	}

	outW, outH := fitWithin(raster.Width, raster.Height, r.config.MaxSize)
	if outW == raster.Width && outH == raster.Height {
		return r.encodePNG(src)
	}

	// Output dimensions vary per raster, so contexts are not pooled here.
	dc := gg.NewContext(outW, outH)
	dc.Scale(float64(outW)/float64(raster.Width), float64(outH)/float64(raster.Height))
	dc.DrawImage(src, 0, 0)
	return r.encodePNG(dc.Image())
}

// PlatePlaceholder renders a generic well-grid glyph for plates whose
// representative image could not be rendered.
func (r *ThumbnailRenderer) PlatePlaceholder() ([]byte, error) {
	size := r.config.MaxSize
	dc := gg.NewContext(size, size)
	dc.SetColor(color.RGBA{R: 34, G: 34, B: 38, A: 255})
	dc.Clear()

	const rows, cols = 3, 4
	cell := float64(size) / float64(cols+1)
	radius := cell * 0.32
	dc.SetColor(color.RGBA{R: 110, G: 110, B: 120, A: 255})
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			cx := cell * (float64(j) + 1)
			cy := float64(size)/2 + cell*(float64(i)-float64(rows-1)/2)
			dc.DrawCircle(cx, cy, radius)
			dc.Fill()
		}
	}
	return r.encodePNG(dc.Image())
}

func (r *ThumbnailRenderer) encodePNG(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// fitWithin shrinks (w, h) to fit a max-by-max box, preserving aspect.
// Dimensions already inside the box are returned unchanged.
func fitWithin(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		scaled := h * max / w
		if scaled < 1 {
			scaled = 1
		}
		return max, scaled
	}
	scaled := w * max / h
	if scaled < 1 {
		scaled = 1
	}
	return scaled, max
}
