// Package compositor provides channel color assignment and 8-bit RGB
// compositing for multi-channel image planes.
package compositor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RGB is an 8-bit color triple.
type RGB struct {
	R, G, B uint8
}

var (
	White   = RGB{255, 255, 255}
	Red     = RGB{255, 0, 0}
	Green   = RGB{0, 255, 0}
	Blue    = RGB{0, 0, 255}
	Cyan    = RGB{0, 255, 255}
	Magenta = RGB{255, 0, 255}
	Yellow  = RGB{255, 255, 0}
)

// quadPalette is the fixed palette used for four-channel images and,
// cyclically, for the visible channels of images with more than four.
var quadPalette = [4]RGB{Cyan, Yellow, Magenta, Red}

// ScanRange returns the minimum and maximum of samples in a single pass.
// For empty input the result is (+Inf, 0); callers must guard against
// zero-length channel data.
func ScanRange(samples []float64) (min, max float64) {
	min = math.Inf(1)
	max = 0
	for _, v := range samples {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// HexToColor parses a 6-digit hex color string, with or without a leading '#'.
func HexToColor(hex string) (RGB, error) {
	s := strings.TrimPrefix(hex, "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("invalid hex color %q: expected 6 hex digits", hex)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	return RGB{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
	}, nil
}

// DefaultVisibility returns the default per-channel visibility: all channels
// when there are at most four, otherwise only the first four. This bounds the
// number of channels composited by default.
func DefaultVisibility(channelCount int) []bool {
	visible := make([]bool, channelCount)
	for i := range visible {
		visible[i] = channelCount <= 4 || i < 4
	}
	return visible
}

// DefaultColors returns the default per-channel colors for channelCount
// channels with the given visibility. Fixed palettes cover one to four
// channels; beyond four, every channel starts white and the four-color
// palette is assigned cyclically to the visible channels in visibility order.
func DefaultColors(channelCount int, visible []bool) []RGB {
	colors := make([]RGB, channelCount)
	switch channelCount {
	case 1:
		colors[0] = White
	case 2:
		colors[0] = Magenta
		colors[1] = Green
	case 3:
		colors[0] = Red
		colors[1] = Green
		colors[2] = Blue
	case 4:
		copy(colors, quadPalette[:])
	default:
		for i := range colors {
			colors[i] = White
		}
		seen := 0
		for i, vis := range visible {
			if i >= channelCount {
				break
			}
			if !vis {
				continue
			}
			colors[i] = quadPalette[seen%len(quadPalette)]
			seen++
		}
	}
	return colors
}

// CompositeChannels blends equal-length channel planes into a row-major RGBA
// buffer. Each sample is normalized against its channel's (min, max) range,
// scaled by the channel color, and the per-component maximum across channels
// is kept, so bright regions from any single channel dominate. A degenerate
// range (max <= min) contributes nothing. Alpha is always 255.
func CompositeChannels(channels [][]float64, ranges [][2]float64, colors []RGB) ([]byte, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels to composite")
	}
	if len(ranges) != len(channels) || len(colors) != len(channels) {
		return nil, fmt.Errorf("mismatched inputs: %d channels, %d ranges, %d colors",
			len(channels), len(ranges), len(colors))
	}
	n := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != n {
			return nil, fmt.Errorf("channel %d has %d samples, expected %d", i+1, len(ch), n)
		}
	}

	rgba := make([]byte, n*4)
	for i := 0; i < n; i++ {
		var r, g, b float64
		for c, ch := range channels {
			lo, hi := ranges[c][0], ranges[c][1]
			span := hi - lo
			if span <= 0 {
				continue
			}
			t := (ch[i] - lo) / span
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
			if v := t * float64(colors[c].R); v > r {
				r = v
			}
			if v := t * float64(colors[c].G); v > g {
				g = v
			}
			if v := t * float64(colors[c].B); v > b {
				b = v
			}
		}
		off := i * 4
		rgba[off] = clamp8(r)
		rgba[off+1] = clamp8(g)
		rgba[off+2] = clamp8(b)
		rgba[off+3] = 255
	}
	return rgba, nil
}

func clamp8(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v + 0.5)
}
