// Package spatial builds an immutable nearest-neighbor index over one
// generation's coordinates. Ordering is by great-circle (haversine) distance
// in kilometers with ties broken by original record position.
package spatial

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/umahmood/haversine"
)

// Below this size an exact scan is both faster and strictly correct; the
// r-tree path is an approximation filter that still re-ranks by haversine.
const exactScanThreshold = 4096

// Over-fetch factor for the r-tree path: planar nearest-neighbor order can
// disagree with great-circle order near the candidate boundary.
func candidateCount(k, size int) int {
	n := k*3 + 16
	if n > size {
		n = size
	}
	return n
}

// Entry is one indexable point. Seq is the record's position in its
// generation and doubles as the tie-break key.
type Entry struct {
	Seq int
	Lat float64
	Lon float64
}

// Neighbor is one ranked query result.
type Neighbor struct {
	Seq        int
	DistanceKM float64
}

// Index answers k-nearest queries. It is immutable after Build and safe for
// concurrent readers.
type Index struct {
	entries []Entry
	tree    *rtreego.Rtree
}

type treeItem struct {
	entry Entry
	rect  rtreego.Rect
}

func (it *treeItem) Bounds() rtreego.Rect { return it.rect }

// Build constructs an index over the given entries. Callers must pass only
// entries with real coordinates; records that failed geocoding are excluded
// upstream. The input slice is copied.
func Build(entries []Entry) *Index {
	ix := &Index{entries: append([]Entry(nil), entries...)}

	if len(ix.entries) > exactScanThreshold {
		ix.tree = rtreego.NewTree(2, 25, 50)
		for i := range ix.entries {
			e := ix.entries[i]
			rect, err := rtreego.NewRect(rtreego.Point{e.Lon, e.Lat}, []float64{1e-9, 1e-9})
			if err != nil {
				continue
			}
			ix.tree.Insert(&treeItem{entry: e, rect: rect})
		}
	}
	return ix
}

// Size returns the number of indexed points.
func (ix *Index) Size() int { return len(ix.entries) }

// Nearest returns up to k neighbors of (lat, lon), closest first. k larger
// than the index size returns everything; k <= 0 returns nil.
func (ix *Index) Nearest(lat, lon float64, k int) []Neighbor {
	if k <= 0 || len(ix.entries) == 0 {
		return nil
	}
	if k > len(ix.entries) {
		k = len(ix.entries)
	}

	var candidates []Entry
	if ix.tree == nil {
		candidates = ix.entries
	} else {
		items := ix.tree.NearestNeighbors(candidateCount(k, len(ix.entries)), rtreego.Point{lon, lat})
		candidates = make([]Entry, 0, len(items))
		for _, it := range items {
			if ti, ok := it.(*treeItem); ok {
				candidates = append(candidates, ti.entry)
			}
		}
	}

	from := haversine.Coord{Lat: lat, Lon: lon}
	out := make([]Neighbor, 0, len(candidates))
	for _, e := range candidates {
		_, km := haversine.Distance(from, haversine.Coord{Lat: e.Lat, Lon: e.Lon})
		out = append(out, Neighbor{Seq: e.Seq, DistanceKM: km})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKM != out[j].DistanceKM {
			return out[i].DistanceKM < out[j].DistanceKM
		}
		return out[i].Seq < out[j].Seq
	})

	if k < len(out) {
		out = out[:k]
	}
	return out
}

// DistanceKM returns the great-circle distance between two points in km.
func DistanceKM(latA, lonA, latB, lonB float64) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: latA, Lon: lonA},
		haversine.Coord{Lat: latB, Lon: lonB},
	)
	return km
}
