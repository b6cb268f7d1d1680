package domain

import "math"

// earthRadiusMeters is the mean Earth radius used for geodesic math
const earthRadiusMeters = 6371000.0

// HaversineMeters computes the great-circle distance between two coordinates
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// LocalPlane projects coordinates onto a tangent plane around an origin.
// Good enough over the few tens of kilometers a LoRa link can span.
type LocalPlane struct {
	originLat float64
	originLon float64
	cosLat    float64
}

// NewLocalPlane creates a planar projection centered on the given origin
func NewLocalPlane(lat, lon float64) *LocalPlane {
	return &LocalPlane{
		originLat: lat,
		originLon: lon,
		cosLat:    math.Cos(lat * math.Pi / 180),
	}
}

// ToXY converts a coordinate to meters east (x) and north (y) of the origin
func (p *LocalPlane) ToXY(lat, lon float64) (x, y float64) {
	x = (lon - p.originLon) * math.Pi / 180 * earthRadiusMeters * p.cosLat
	y = (lat - p.originLat) * math.Pi / 180 * earthRadiusMeters
	return x, y
}

// ToLatLon converts plane coordinates back to latitude and longitude
func (p *LocalPlane) ToLatLon(x, y float64) (lat, lon float64) {
	lat = p.originLat + y/earthRadiusMeters*180/math.Pi
	lon = p.originLon
	if p.cosLat != 0 {
		lon = p.originLon + x/(earthRadiusMeters*p.cosLat)*180/math.Pi
	}
	return lat, lon
}
