package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// NorthPole is the world axis used for latitude.
var NorthPole = mgl64.Vec3{0, 0, 1}

// Geographic represents a direction in geographic coordinates
type Geographic struct {
	Lat float64 // Latitude in radians [-π/2, π/2], positive = north
	Lon float64 // Longitude in radians [-π, π], positive = east
}

// DegreesToRadians converts degrees to radians
func DegreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

// RadiansToDegrees converts radians to degrees
func RadiansToDegrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// GeographicToVector converts geographic coordinates to a unit direction.
// Z points to the north pole, X to 0° longitude at the equator.
func GeographicToVector(g Geographic) mgl64.Vec3 {
	cosLat := math.Cos(g.Lat)
	return mgl64.Vec3{
		cosLat * math.Cos(g.Lon),
		cosLat * math.Sin(g.Lon),
		math.Sin(g.Lat),
	}
}

// VectorToGeographic converts a direction to geographic coordinates
func VectorToGeographic(v mgl64.Vec3) Geographic {
	unit, ok := SafeNormalize(v)
	if !ok {
		return Geographic{}
	}
	return Geographic{
		Lat: math.Asin(Clamp(unit.Z(), -1, 1)),
		Lon: math.Atan2(unit.Y(), unit.X()),
	}
}

// AbsoluteLatitude returns the unsigned latitude of a unit direction.
func AbsoluteLatitude(v mgl64.Vec3) float64 {
	return math.Abs(math.Pi/2 - AngleBetween(v, NorthPole))
}

// ValidateCoordinates checks if coordinates are within valid ranges
func ValidateCoordinates(g Geographic) bool {
	return g.Lat >= -math.Pi/2 && g.Lat <= math.Pi/2 &&
		g.Lon >= -math.Pi && g.Lon <= math.Pi
}

// NormalizeCoordinates ensures coordinates are within valid ranges
func NormalizeCoordinates(g Geographic) Geographic {
	// Clamp latitude
	if g.Lat > math.Pi/2 {
		g.Lat = math.Pi / 2
	} else if g.Lat < -math.Pi/2 {
		g.Lat = -math.Pi / 2
	}

	// Wrap longitude
	for g.Lon > math.Pi {
		g.Lon -= 2 * math.Pi
	}
	for g.Lon < -math.Pi {
		g.Lon += 2 * math.Pi
	}

	return g
}

// SampleGrid returns row-major directions of an evenly spaced lat/lon raster
// with rows from north to south.
func SampleGrid(width, height int) []mgl64.Vec3 {
	if width <= 0 || height <= 0 {
		return nil
	}
	out := make([]mgl64.Vec3, 0, width*height)
	for row := 0; row < height; row++ {
		lat := math.Pi/2 - (float64(row)+0.5)*math.Pi/float64(height)
		for col := 0; col < width; col++ {
			lon := -math.Pi + (float64(col)+0.5)*2*math.Pi/float64(width)
			out = append(out, GeographicToVector(Geographic{Lat: lat, Lon: lon}))
		}
	}
	return out
}
