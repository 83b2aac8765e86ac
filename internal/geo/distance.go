package geo

import "math"

const earthRadiusM = 6371000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Distance returns the distance between two optional points. ok is false
// when either side lacks coordinates.
func Distance(lat1, lng1, lat2, lng2 *float64) (meters float64, ok bool) {
	if lat1 == nil || lng1 == nil || lat2 == nil || lng2 == nil {
		return 0, false
	}
	return Haversine(*lat1, *lng1, *lat2, *lng2), true
}
