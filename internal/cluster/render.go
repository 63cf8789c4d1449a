// Package cluster turns a marker set into a map layout, grouping markers that
// would overlap on screen at the current zoom.
package cluster

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/quaketrack/quaketrack/internal/quake"
)

// DefaultRadius is the clustering distance in screen pixels.
const DefaultRadius = 60.0

// ItemKind tells a single marker from a cluster.
type ItemKind int

const (
	KindSingle ItemKind = iota + 1
	KindCluster
)

func (k ItemKind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

func (k ItemKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Item is one entry of a Layout. For a single marker Event is set and
// Position is the event's own position; for a cluster Position is the
// centroid of its members.
type Item struct {
	Kind         ItemKind     `json:"kind"`
	Event        *quake.Event `json:"event,omitempty"`
	Position     LatLon       `json:"position"`
	Pixel        XY           `json:"pixel"`
	Count        int          `json:"count"`
	MemberIDs    []string     `json:"memberIds"`
	MaxMagnitude float64      `json:"maxMagnitude"`
	Popup        string       `json:"popup"`
}

// Layout is the rendered marker set at one zoom level.
type Layout struct {
	Zoom  int    `json:"zoom"`
	Items []Item `json:"items"`
}

// Markers counts the markers covered by the layout.
func (l Layout) Markers() int {
	n := 0
	for _, it := range l.Items {
		n += it.Count
	}
	return n
}

// Renderer groups markers closer than Radius pixels.
type Renderer struct {
	Radius float64
}

// Render lays out markers at zoom with DefaultRadius.
func Render(markers []quake.Event, zoom int) Layout {
	return Renderer{}.Render(markers, zoom)
}

type placed struct {
	ev quake.Event
	mx float64 // EPSG:3857
	my float64
	px XY
}

// Render lays out markers at zoom. Markers are visited strongest first
// (ties by id); each unassigned marker seeds a group that absorbs every
// unassigned marker within Radius of it. The result depends only on the
// inputs and covers every marker exactly once.
func (r Renderer) Render(markers []quake.Event, zoom int) Layout {
	zoom = ClampZoom(zoom)
	radius := r.Radius
	if radius <= 0 {
		radius = DefaultRadius
	}

	pts := make([]placed, len(markers))
	for i, ev := range markers {
		mx, my := mercator(ev.Latitude, ev.Longitude)
		pts[i] = placed{ev: ev, mx: mx, my: my, px: toPixel(mx, my, zoom)}
	}
	slices.SortStableFunc(pts, func(a, b placed) int {
		if a.ev.Magnitude != b.ev.Magnitude {
			if a.ev.Magnitude > b.ev.Magnitude {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ev.ID, b.ev.ID)
	})

	layout := Layout{Zoom: zoom, Items: make([]Item, 0, len(pts))}
	taken := make([]bool, len(pts))
	for i := range pts {
		if taken[i] {
			continue
		}
		taken[i] = true
		group := []placed{pts[i]}
		for j := i + 1; j < len(pts); j++ {
			if !taken[j] && distance(pts[i].px, pts[j].px) < radius {
				taken[j] = true
				group = append(group, pts[j])
			}
		}
		layout.Items = append(layout.Items, item(group, zoom))
	}
	return layout
}

func item(group []placed, zoom int) Item {
	if len(group) == 1 {
		ev := group[0].ev
		return Item{
			Kind:         KindSingle,
			Event:        &ev,
			Position:     LatLon{Latitude: ev.Latitude, Longitude: ev.Longitude},
			Pixel:        group[0].px,
			Count:        1,
			MemberIDs:    []string{ev.ID},
			MaxMagnitude: ev.Magnitude,
			Popup:        ev.Popup(),
		}
	}

	ids := make([]string, len(group))
	points := make([]geom.Point, len(group))
	maxMag := math.Inf(-1)
	for i, p := range group {
		ids[i] = p.ev.ID
		points[i] = geom.NewPoint(geom.Coordinates{XY: geom.XY{X: p.mx, Y: p.my}})
		maxMag = max(maxMag, p.ev.Magnitude)
	}
	slices.Sort(ids)

	cx, cy := group[0].mx, group[0].my
	if c, ok := geom.NewMultiPoint(points).Centroid().Coordinates(); ok {
		cx, cy = c.XY.X, c.XY.Y
	}
	return Item{
		Kind:         KindCluster,
		Position:     unmercator(cx, cy),
		Pixel:        toPixel(cx, cy, zoom),
		Count:        len(group),
		MemberIDs:    ids,
		MaxMagnitude: maxMag,
		Popup:        fmt.Sprintf("%d earthquakes\nStrongest: %.1f", len(group), maxMag),
	}
}

func distance(a, b XY) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
