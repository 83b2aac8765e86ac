package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID of every stored place location.
const SRID = 4326

// EncodePoint converts a coordinate pair to EWKB bytes with SRID 4326, ready
// for ST_GeomFromEWKB. Longitude is X.
func EncodePoint(lat, lng float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point")
	}
	return data, nil
}

// DecodePoint parses EWKB point bytes back into lat, lng.
func DecodePoint(data []byte) (lat, lng float64, err error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geo: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return 0, 0, eris.Errorf("geo: expected point, got %T", g)
	}
	return p.Y(), p.X(), nil
}
