// Package ngff interprets OME-NGFF group descriptors (zarr.json) and resolves
// dataset roots to concrete multiscale images.
package ngff

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ngff-gallery/server/internal/data/zarr"
)

// rootDoc is the top of a group-level zarr.json. Vendor metadata lives under
// attributes.ome.
type rootDoc struct {
	Attributes struct {
		OME *OME `json:"ome"`
	} `json:"attributes"`
}

// OME is the vendor metadata block of an NGFF group.
type OME struct {
	Version        string          `json:"version"`
	Multiscales    []Multiscale    `json:"multiscales"`
	Plate          *Plate          `json:"plate"`
	Bioformats2Raw json.RawMessage `json:"bioformats2raw.layout"`
	Omero          *Omero          `json:"omero"`
}

// Multiscale declares an image pyramid: resolution levels ordered highest to
// lowest resolution, with named axes.
type Multiscale struct {
	Name     string         `json:"name"`
	Axes     []Axis         `json:"axes"`
	Datasets []LevelDataset `json:"datasets"`
}

// Axis names one dimension of a multiscale image (e.g. t, c, z, y, x).
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit"`
}

// LevelDataset is one resolution level, identified by its relative path.
type LevelDataset struct {
	Path string `json:"path"`
}

// Plate declares a multi-well layout.
type Plate struct {
	Name       string `json:"name"`
	FieldCount int    `json:"field_count"`
	Wells      []Well `json:"wells"`
}

// Well is one well of a plate, addressed by a relative path.
type Well struct {
	Path        string `json:"path"`
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
}

// Omero carries per-channel display hints.
type Omero struct {
	Channels []Channel `json:"channels"`
}

// Channel is one omero channel hint. Active is a pointer so an absent flag is
// distinguishable from an explicit false.
type Channel struct {
	Active *bool  `json:"active"`
	Color  string `json:"color"`
	Label  string `json:"label"`
}

// Resolution is the outcome of resolving a dataset root. Image is nil when
// resolution failed or found no recognized layout; Root is then the input
// root unchanged. Plate is set when resolution went through a plate layout.
type Resolution struct {
	Image *Multiscale
	Omero *Omero
	Root  string
	Plate *Plate
}

// Resolved reports whether a concrete multiscale image was found.
func (r *Resolution) Resolved() bool { return r != nil && r.Image != nil }

// maxDepth bounds recursion through plate and bioformats2raw indirections.
const maxDepth = 8

// Resolve fetches the descriptor at <root>/zarr.json and recursively resolves
// it to a multiscale image. Fetch or parse failures are logged and yield an
// unresolved sentinel, not an error; the only returned error is context
// cancellation.
func Resolve(ctx context.Context, store zarr.Store, root string) (*Resolution, error) {
	return resolve(ctx, store, root, 0)
}

func resolve(ctx context.Context, store zarr.Store, root string, depth int) (*Resolution, error) {
	unresolved := &Resolution{Root: root}
	if depth >= maxDepth {
		log.Printf("ngff: resolution exceeded depth %d at %s", maxDepth, root)
		return unresolved, nil
	}

	data, err := store.Get(ctx, zarr.JoinPath(root, "zarr.json"))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Printf("ngff: failed to load descriptor at %s: %v", root, err)
		return unresolved, nil
	}

	var doc rootDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("ngff: malformed descriptor at %s: %v", root, err)
		return unresolved, nil
	}

	ome := doc.Attributes.OME
	if ome == nil {
		return unresolved, nil
	}

	switch {
	case len(ome.Multiscales) > 0:
		// Only the first multiscales entry matters.
		return &Resolution{
			Image: &ome.Multiscales[0],
			Omero: ome.Omero,
			Root:  root,
		}, nil

	case ome.Plate != nil:
		if len(ome.Plate.Wells) == 0 {
			log.Printf("ngff: plate at %s has no wells", root)
			return unresolved, nil
		}
		// A representative thumbnail for a plate: the first well's first field.
		fieldRoot := zarr.JoinPath(root, zarr.JoinPath(ome.Plate.Wells[0].Path, "0"))
		res, err := resolve(ctx, store, fieldRoot, depth+1)
		if err != nil {
			return nil, err
		}
		res.Plate = ome.Plate
		return res, nil

	case len(ome.Bioformats2Raw) > 0 && string(ome.Bioformats2Raw) != "null":
		// Converted container wrapping a single image at "0".
		return resolve(ctx, store, zarr.JoinPath(root, "0"), depth+1)

	default:
		return unresolved, nil
	}
}

// EstimateWritten sums the uncompressed byte sizes of all resolution levels
// of a resolved image, the same accounting the gallery manifests carry in
// their written column.
func EstimateWritten(ctx context.Context, store zarr.Store, res *Resolution) (int64, error) {
	if !res.Resolved() {
		return 0, fmt.Errorf("cannot estimate size of an unresolved image")
	}
	var total int64
	for _, ds := range res.Image.Datasets {
		arr, err := zarr.OpenArray(ctx, store, zarr.JoinPath(res.Root, ds.Path))
		if err != nil {
			return 0, err
		}
		total += arr.Meta().ByteSize()
		arr.Close()
	}
	return total, nil
}
