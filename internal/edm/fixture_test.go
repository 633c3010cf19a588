package edm

import (
	"time"

	"example.com/edmgate/internal/edmtest"
)

var (
	fixtureDownload = time.Date(2023, time.June, 15, 10, 30, 0, 0, time.UTC)
	fixtureStart    = time.Date(2023, time.June, 15, 10, 31, 0, 0, time.UTC)
	fixtureFeatures = edmtest.CylinderFeatures(4) | uint32(FeatureBattery)
)

// legacyFile is a four cylinder single engine V1 download with two flights.
func legacyFile() edmtest.File {
	return edmtest.File{
		Layout:       edmtest.LayoutV1,
		Registration: "N12345",
		Alarms:       []int{155, 130, 500, 450, 60, 1650, 230, 90},
		FuelFlow:     []int{0, 56, 0, 2960, 2960},
		Downloaded:   fixtureDownload,
		Model:        700,
		Features:     fixtureFeatures,
		Version:      250,
		Flights: []edmtest.Flight{
			{
				ID:       1,
				Features: fixtureFeatures,
				Interval: 6,
				Start:    fixtureStart,
				Samples: []edmtest.Sample{
					{Deltas: map[int]int{0: 1350, 1: 1360, 2: 1340, 3: 1370, 8: 250, 9: 240, 10: 230, 11: 245, 20: 140}},
					{Repeat: 2, Deltas: map[int]int{0: 10, 1: -5, 2: 3, 3: -2}},
					{Deltas: map[int]int{0: -4}, NA: []int{3}},
				},
			},
			{
				ID:       2,
				Features: fixtureFeatures,
				Interval: 2,
				Start:    fixtureStart.Add(2 * time.Hour),
				Samples: []edmtest.Sample{
					{Deltas: map[int]int{0: 1200, 1: 1210, 2: 1190, 3: 1220}},
				},
			},
		},
	}
}

// extendedFile is a six cylinder V4 download using additive checksums.
func extendedFile() edmtest.File {
	features := edmtest.CylinderFeatures(6) | uint32(FeatureRPM|FeatureOAT|FeatureMAP|FeatureFF|FeatureCLD)
	return edmtest.File{
		Layout:       edmtest.LayoutV4,
		Registration: "D-EABC",
		Alarms:       []int{155, 130, 500, 450, 60, 1650, 230, 90},
		FuelFlow:     []int{0, 92, 0, 2960, 2960},
		Downloaded:   fixtureDownload,
		Model:        930,
		Features:     features,
		Version:      401,
		BuildNumber:  108,
		Beta:         2,
		Flights: []edmtest.Flight{
			{
				ID:       7,
				Features: features,
				Interval: 1,
				Start:    fixtureStart,
				Samples: []edmtest.Sample{
					{Deltas: map[int]int{0: 1300, 5: 1290, 13: 180, 21: 15, 23: 120, 30: 75, 40: 245, 41: 2400}},
					{Deltas: map[int]int{41: -100, 21: -20, 30: 5}},
				},
			},
		},
	}
}
