package geo

import "math"

const earthRadiusKm = 6371.0

var compassPoints = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// ComputeBearing returns the great-circle initial bearing from origin to
// target in degrees clockwise from true north, normalized into [0,360).
// When origin and target coincide the bearing is undefined and 0 is returned.
func ComputeBearing(origin, target Coordinate) (float64, error) {
	if err := origin.Validate(); err != nil {
		return 0, err
	}
	if err := target.Validate(); err != nil {
		return 0, err
	}
	if origin == target {
		return 0, nil
	}

	phi1 := toRadians(origin.Latitude)
	phi2 := toRadians(target.Latitude)
	dLambda := toRadians(target.Longitude - origin.Longitude)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	return Normalize(toDegrees(math.Atan2(y, x))), nil
}

// QiblaBearing is ComputeBearing towards the Kaaba.
func QiblaBearing(origin Coordinate) (float64, error) {
	return ComputeBearing(origin, Kaaba)
}

// Normalize maps any finite angle into [0,360).
func Normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// math.Mod can hand back 360 after adding to a tiny negative remainder.
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Round returns the bearing in whole degrees, still within [0,360).
func Round(deg float64) int {
	return int(math.Round(Normalize(deg))) % 360
}

// CompassPoint names the 8-point compass sector containing deg.
func CompassPoint(deg float64) string {
	idx := int(math.Round(Normalize(deg)/45)) % len(compassPoints)
	return compassPoints[idx]
}

// DistanceKm is the haversine great-circle distance between a and b.
func DistanceKm(a, b Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
