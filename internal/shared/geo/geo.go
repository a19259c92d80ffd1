package geo

import (
	"math"

	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
)

// EarthRadiusM is the mean spherical Earth radius used for all distances.
const EarthRadiusM = 6371000.0

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dPhi := toRad(lat2 - lat1)
	dLambda := toRad(lng2 - lng1)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	// rounding can push a a hair outside [0,1] for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// PathLengthMeters sums consecutive pair distances in order.
func PathLengthMeters(coords []Coord) float64 {
	total := 0.0
	for i := 1; i < len(coords); i++ {
		total += HaversineMeters(coords[i-1].Lat, coords[i-1].Lng, coords[i].Lat, coords[i].Lng)
	}
	return total
}

// LineStringFeature encodes an ordered path as a GeoJSON feature (lng,lat order).
func LineStringFeature(id string, coords []Coord, props map[string]interface{}) (*gjson.Feature, error) {
	flat := make([]geom.Coord, 0, len(coords))
	for _, c := range coords {
		flat = append(flat, geom.Coord{c.Lng, c.Lat})
	}
	line, err := geom.NewLineString(geom.XY).SetCoords(flat)
	if err != nil {
		return nil, err
	}
	return &gjson.Feature{
		ID:         id,
		Geometry:   line,
		Properties: props,
	}, nil
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
