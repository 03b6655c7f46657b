package hub

import (
	"math"
	"time"
)

// DeclinationFunc returns the magnetic declination in degrees, positive
// east, at the given position and time.
type DeclinationFunc func(latitude, longitude, altitude float64, at time.Time) float64

// Geomagnetic north pole of the centered dipole approximation
const (
	dipolePoleLatitude  = 80.7
	dipolePoleLongitude = -72.7
)

// DipoleDeclination approximates the declination as the bearing from the
// position to the dipole's north pole. It ignores altitude and secular
// variation and is good to a few degrees away from the poles.
func DipoleDeclination(latitude, longitude, _ float64, _ time.Time) float64 {
	lat1 := latitude * math.Pi / 180
	lat2 := dipolePoleLatitude * math.Pi / 180
	dLon := (dipolePoleLongitude - longitude) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	bearing := math.Atan2(y, x) * 180 / math.Pi

	// Bearing in (-180, 180] is already east-positive declination
	return bearing
}
