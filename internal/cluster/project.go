package cluster

import (
	"math"

	"github.com/wroge/wgs84"
)

const (
	tileSize = 256
	minZoom  = 0
	maxZoom  = 22

	// Web Mercator is undefined at the poles.
	maxMercatorLat = 85.05112878
	// Half the EPSG:3857 world width in metres.
	mercatorHalfWorld = 20037508.342789244
)

var (
	toMercator   = wgs84.EPSG().Transform(4326, 3857)
	fromMercator = wgs84.EPSG().Transform(3857, 4326)
)

// XY is a position in world pixel space at a given zoom; the origin is the
// top-left corner of the map (lon -180, lat ~85).
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LatLon is a WGS84 position.
type LatLon struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ClampZoom bounds zoom to the supported tile levels.
func ClampZoom(zoom int) int {
	return min(max(zoom, minZoom), maxZoom)
}

// WorldSize is the width and height in pixels of the whole map at zoom.
func WorldSize(zoom int) float64 {
	return tileSize * math.Exp2(float64(ClampZoom(zoom)))
}

// mercator projects lon/lat to EPSG:3857 metres.
func mercator(lat, lon float64) (x, y float64) {
	lat = min(max(lat, -maxMercatorLat), maxMercatorLat)
	x, y, _ = toMercator(lon, lat, 0)
	return x, y
}

// unmercator is the inverse of mercator.
func unmercator(x, y float64) LatLon {
	lon, lat, _ := fromMercator(x, y, 0)
	return LatLon{Latitude: lat, Longitude: lon}
}

// toPixel scales EPSG:3857 metres to world pixels at zoom.
func toPixel(x, y float64, zoom int) XY {
	world := WorldSize(zoom)
	return XY{
		X: (x + mercatorHalfWorld) / (2 * mercatorHalfWorld) * world,
		Y: (mercatorHalfWorld - y) / (2 * mercatorHalfWorld) * world,
	}
}

// Project returns the world pixel position of lat/lon at zoom.
func Project(lat, lon float64, zoom int) XY {
	x, y := mercator(lat, lon)
	return toPixel(x, y, zoom)
}

// Unproject returns the lat/lon at world pixel p for zoom. Pixels outside
// the map are clamped to its edges.
func Unproject(p XY, zoom int) LatLon {
	world := WorldSize(zoom)
	px := min(max(p.X, 0), world)
	py := min(max(p.Y, 0), world)
	x := px/world*(2*mercatorHalfWorld) - mercatorHalfWorld
	y := mercatorHalfWorld - py/world*(2*mercatorHalfWorld)
	return unmercator(x, y)
}
