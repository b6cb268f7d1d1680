// Package demo seeds a small sample network through the normal ingestion
// path, so a fresh install has something to show on the map.
package demo

import (
	"log"
	"time"

	"meshmap/internal/domain"
)

// Sink is where seeded observations go
type Sink interface {
	Ingest(obs domain.PacketObservation) error
}

type seedNode struct {
	id        string
	longName  string
	shortName string
	hwModel   int
	lat, lon  float64
	alt       float64
	battery   int
	voltage   float64
}

// Gateways around Portugal with confirmed GPS fixes, plus relays that only
// ever appear through their radio links, so triangulation has work to do.
var gateways = []seedNode{
	{id: "4a1b2c3d", longName: "Lisbon Gateway", shortName: "LIS1", hwModel: 4, lat: 38.7223, lon: -9.1393, alt: 50, battery: 95, voltage: 4.1},
	{id: "5e2f3a4b", longName: "Porto Node", shortName: "PRT1", hwModel: 9, lat: 41.1579, lon: -8.6291, alt: 100, battery: 78, voltage: 3.8},
	{id: "6f3a4b5c", longName: "Coimbra Station", shortName: "CBR1", hwModel: 30, lat: 40.2033, lon: -8.4103, alt: 75, battery: 82, voltage: 3.9},
	{id: "7a4b5c6d", longName: "Faro Beach Node", shortName: "FAR1", hwModel: 16, lat: 37.0194, lon: -7.9304, alt: 10, battery: 64, voltage: 3.7},
}

var relays = []string{"8b5c6d7e", "9c6d7e8f"}

// Seed ingests the sample network
func Seed(sink Sink) {
	now := time.Now()

	// Gateways announce themselves with position and telemetry.
	for i, gw := range gateways {
		gw := gw
		alt := gw.alt
		obs := domain.PacketObservation{
			FromID:    gw.id,
			ToID:      gateways[(i+1)%len(gateways)].id,
			Timestamp: now.Add(-time.Duration(len(gateways)-i) * time.Minute),
			SNR:       floatPtr(8.5 - float64(i)),
			RSSI:      intPtr(-70 - 3*i),
			Position:  &domain.Position{Latitude: gw.lat, Longitude: gw.lon, Altitude: &alt},
			Attrs: domain.NodeUpdate{
				LongName:      &gw.longName,
				ShortName:     &gw.shortName,
				HardwareModel: &gw.hwModel,
				BatteryLevel:  &gw.battery,
				Voltage:       &gw.voltage,
			},
		}
		if err := sink.Ingest(obs); err != nil {
			log.Printf("Demo seed: %v", err)
		}
	}

	// Relays are heard by several gateways but never report a fix.
	for i, relay := range relays {
		for j, gw := range gateways[:3] {
			obs := domain.PacketObservation{
				FromID:    relay,
				ToID:      gw.id,
				GatewayID: gw.id,
				Timestamp: now.Add(-time.Duration(i*3+j) * time.Minute),
				SNR:       floatPtr(5.0 - float64(j)),
				RSSI:      intPtr(-85 - 4*j),
			}
			if err := sink.Ingest(obs); err != nil {
				log.Printf("Demo seed: %v", err)
			}
		}
	}

	log.Printf("Seeded demo network: %d gateways, %d relays", len(gateways), len(relays))
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
