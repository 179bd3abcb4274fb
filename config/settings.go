package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Settings is the full contents of settings.json.
type Settings struct {
	Simulation SimulationSettings `json:"simulation"`
	World      WorldSettings      `json:"world"`
	Server     ServerSettings     `json:"server"`
	Logging    LoggingSettings    `json:"logging"`
}

// SimulationSettings drive the outer run loop.
type SimulationSettings struct {
	IcosphereLevel int     `json:"icosphereLevel" jsonschema:"minimum=0,maximum=9,description=Mesh subdivision level; vertex count is 10*4^level+2"`
	Seed           uint64  `json:"seed" jsonschema:"description=Random seed; 0 picks one from the clock"`
	MinTimestep    float64 `json:"minTimestep" jsonschema:"description=Lower bound of the adaptive timestep in million years"`
	TargetAge      float64 `json:"targetAge" jsonschema:"description=Stop once the world reaches this age in million years; 0 runs forever"`
	MaxSteps       int     `json:"maxSteps" jsonschema:"description=Stop after this many timesteps; 0 means unlimited"`
	Comment        string  `json:"comment,omitempty"`
}

// WorldSettings are the tunable constants of the tectonics engine.
type WorldSettings struct {
	Radius            float64 `json:"radius" jsonschema:"description=Planet radius in km"`
	MantleDensity     float64 `json:"mantleDensity"`
	WaterDensity      float64 `json:"waterDensity"`
	WaterDepth        float64 `json:"waterDepth" jsonschema:"description=Average ocean depth per cell in meters; sets the total sea volume"`
	InitialSealevel   float64 `json:"initialSealevel"`
	DesiredPlateCount int     `json:"desiredPlateCount"`

	PlateSpeedMean   float64 `json:"plateSpeedMean" jsonschema:"description=Mean angular speed in radians per million years"`
	PlateSpeedStdDev float64 `json:"plateSpeedStdDev"`

	MaxTimestep         float64 `json:"maxTimestep"`
	MinInteractionAge   float64 `json:"minInteractionAge" jsonschema:"description=Cells younger than this are not overridden by collisions"`
	FrictionCoefficient float64 `json:"frictionCoefficient"`

	SupercontinentMean   float64 `json:"supercontinentMean" jsonschema:"description=Mean supercontinent cycle length in million years"`
	SupercontinentStdDev float64 `json:"supercontinentStdDev"`

	RelaxationDecay         float64 `json:"relaxationDecay"`
	RelaxationMaxIterations int     `json:"relaxationMaxIterations"`
	Workers                 int     `json:"workers" jsonschema:"description=Size of the per-plate worker pool; 0 uses the CPU count"`

	Crust    CrustSettings   `json:"crust"`
	Erosion  ErosionSettings `json:"erosion"`
	Hotspots HotspotSettings `json:"hotspots"`
	Oceanic  OceanicSettings `json:"oceanic"`
}

// CrustSettings bound column thickness during homeostasis.
type CrustSettings struct {
	OceanicCap        float64 `json:"oceanicCap"`
	OceanicReset      float64 `json:"oceanicReset"`
	ContinentalCap    float64 `json:"continentalCap"`
	RootCap           float64 `json:"rootCap"`
	RootReset         float64 `json:"rootReset"`
	SedimentHardening float64 `json:"sedimentHardening" jsonschema:"description=Sediment thickness above which sediment turns into continental crust"`
	HardeningRate     float64 `json:"hardeningRate"`
}

// OceanicSettings describe crust created at divergent boundaries.
type OceanicSettings struct {
	RootThickness    float64 `json:"rootThickness"`
	RootDensity      float64 `json:"rootDensity"`
	OceanicThickness float64 `json:"oceanicThickness"`
	OceanicDensity   float64 `json:"oceanicDensity"`
}

// ErosionSettings tune thermal erosion and sediment transport.
type ErosionSettings struct {
	ShelfDepth           float64 `json:"shelfDepth" jsonschema:"description=Depth below sea level where flow weighting switches from squared to linear"`
	FlowLoss             float64 `json:"flowLoss"`
	SedimentDensity      float64 `json:"sedimentDensity"`
	SuspensionLinear     float64 `json:"suspensionLinear"`
	SuspensionQuadratic  float64 `json:"suspensionQuadratic"`
	DeepSuspensionFactor float64 `json:"deepSuspensionFactor"`
	LowlandRate          float64 `json:"lowlandRate"`
	HighlandRate         float64 `json:"highlandRate"`
	MountainRate         float64 `json:"mountainRate"`
	HighlandElevation    float64 `json:"highlandElevation"`
	MountainElevation    float64 `json:"mountainElevation"`
	MaxThermalFactor     float64 `json:"maxThermalFactor"`
}

// HotspotSettings tune volcanic hotspots.
type HotspotSettings struct {
	Count            int     `json:"count"`
	StickyDistanceKm float64 `json:"stickyDistanceKm"`
	VolumeRate       float64 `json:"volumeRate" jsonschema:"description=Erupted volume per hotspot in km^3 per million years"`
	WeightMean       float64 `json:"weightMean"`
	WeightStdDev     float64 `json:"weightStdDev"`
	Density          float64 `json:"density"`
}

// ServerSettings configure the streaming endpoint.
type ServerSettings struct {
	Port             int `json:"port"`
	UpdateIntervalMs int `json:"updateIntervalMs"`
	SampleWidth      int `json:"sampleWidth"`
	SampleHeight     int `json:"sampleHeight"`
}

// LoggingSettings select the logger flavor.
type LoggingSettings struct {
	Development bool   `json:"development"`
	Level       string `json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Default returns the documented defaults.
func Default() Settings {
	return Settings{
		Simulation: SimulationSettings{
			IcosphereLevel: 5,
			MinTimestep:    0.25,
			TargetAge:      1000,
		},
		World:  DefaultWorld(),
		Server: ServerSettings{
			Port:             8080,
			UpdateIntervalMs: 100,
			SampleWidth:      180,
			SampleHeight:     90,
		},
		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// DefaultWorld returns the default engine constants.
func DefaultWorld() WorldSettings {
	return WorldSettings{
		Radius:            6367,
		MantleDensity:     3400,
		WaterDensity:      1026,
		WaterDepth:        2510,
		InitialSealevel:   9620,
		DesiredPlateCount: 10,

		PlateSpeedMean:   0.0095,
		PlateSpeedStdDev: 0.0038,

		MaxTimestep:         10,
		MinInteractionAge:   10,
		FrictionCoefficient: 0.01,

		SupercontinentMean:   300,
		SupercontinentStdDev: 200,

		RelaxationDecay:         0.051293,
		RelaxationMaxIterations: 100,

		Crust: CrustSettings{
			OceanicCap:        10000,
			OceanicReset:      9000,
			ContinentalCap:    10000,
			RootCap:           210000,
			RootReset:         205000,
			SedimentHardening: 3000,
			HardeningRate:     0.25,
		},
		Oceanic: OceanicSettings{
			RootThickness:    84000,
			RootDensity:      3200,
			OceanicThickness: 6000,
			OceanicDensity:   2890,
		},
		Erosion: ErosionSettings{
			ShelfDepth:           300,
			FlowLoss:             0.01,
			SedimentDensity:      2700,
			SuspensionLinear:     15237.4,
			SuspensionQuadratic:  170378,
			DeepSuspensionFactor: 0.25,
			LowlandRate:          0.075,
			HighlandRate:         0.15,
			MountainRate:         0.30,
			HighlandElevation:    1000,
			MountainElevation:    4000,
			MaxThermalFactor:     0.5,
		},
		Hotspots: HotspotSettings{
			Count:            10,
			StickyDistanceKm: 150,
			VolumeRate:       8500,
			WeightMean:       10,
			WeightStdDev:     4,
			Density:          2700,
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error.
// Environment overrides are applied last.
func Load(path string) (Settings, error) {
	settings := Default()

	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return settings, fmt.Errorf("open %s: %w", path, err)
		}
	} else {
		defer file.Close()
		decoder := json.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			return settings, fmt.Errorf("error parsing %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&settings, os.LookupEnv); err != nil {
		return settings, err
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate rejects settings the engine cannot run with.
func (s Settings) Validate() error {
	if s.Simulation.IcosphereLevel < 0 {
		return fmt.Errorf("simulation.icosphereLevel must be >= 0, got %d", s.Simulation.IcosphereLevel)
	}
	if s.Simulation.MinTimestep <= 0 {
		return fmt.Errorf("simulation.minTimestep must be > 0, got %v", s.Simulation.MinTimestep)
	}
	if err := s.World.Validate(); err != nil {
		return err
	}
	if s.Simulation.MinTimestep > s.World.MaxTimestep {
		return fmt.Errorf("simulation.minTimestep %v exceeds world.maxTimestep %v",
			s.Simulation.MinTimestep, s.World.MaxTimestep)
	}
	return nil
}

type namedValue struct {
	name  string
	value float64
}

// Validate rejects non-physical engine constants. Fields are checked in
// declaration order, so the first offending one is always the one reported.
func (w WorldSettings) Validate() error {
	positive := []namedValue{
		{"radius", w.Radius},
		{"mantleDensity", w.MantleDensity},
		{"waterDensity", w.WaterDensity},
		{"maxTimestep", w.MaxTimestep},
		{"crust.oceanicCap", w.Crust.OceanicCap},
		{"crust.continentalCap", w.Crust.ContinentalCap},
		{"crust.rootCap", w.Crust.RootCap},
		{"oceanic.oceanicDensity", w.Oceanic.OceanicDensity},
		{"oceanic.rootDensity", w.Oceanic.RootDensity},
		{"erosion.sedimentDensity", w.Erosion.SedimentDensity},
		{"erosion.mountainElevation", w.Erosion.MountainElevation},
		{"hotspots.density", w.Hotspots.Density},
	}
	for _, f := range positive {
		if !(f.value > 0) {
			return fmt.Errorf("world.%s must be > 0, got %v", f.name, f.value)
		}
	}
	nonNegative := []namedValue{
		{"waterDepth", w.WaterDepth},
		{"plateSpeedMean", w.PlateSpeedMean},
		{"plateSpeedStdDev", w.PlateSpeedStdDev},
		{"frictionCoefficient", w.FrictionCoefficient},
		{"minInteractionAge", w.MinInteractionAge},
		{"relaxationDecay", w.RelaxationDecay},
		{"crust.oceanicReset", w.Crust.OceanicReset},
		{"crust.rootReset", w.Crust.RootReset},
		{"crust.hardeningRate", w.Crust.HardeningRate},
		{"erosion.flowLoss", w.Erosion.FlowLoss},
		{"erosion.lowlandRate", w.Erosion.LowlandRate},
		{"erosion.highlandRate", w.Erosion.HighlandRate},
		{"erosion.mountainRate", w.Erosion.MountainRate},
		{"erosion.deepSuspensionFactor", w.Erosion.DeepSuspensionFactor},
		{"hotspots.volumeRate", w.Hotspots.VolumeRate},
	}
	for _, f := range nonNegative {
		if f.value < 0 || math.IsNaN(f.value) {
			return fmt.Errorf("world.%s must be >= 0, got %v", f.name, f.value)
		}
	}
	if w.Crust.OceanicReset > w.Crust.OceanicCap {
		return fmt.Errorf("world.crust.oceanicReset %v exceeds world.crust.oceanicCap %v",
			w.Crust.OceanicReset, w.Crust.OceanicCap)
	}
	if w.Crust.RootReset > w.Crust.RootCap {
		return fmt.Errorf("world.crust.rootReset %v exceeds world.crust.rootCap %v",
			w.Crust.RootReset, w.Crust.RootCap)
	}
	if w.Erosion.FlowLoss >= 1 {
		return fmt.Errorf("world.erosion.flowLoss must be < 1, got %v", w.Erosion.FlowLoss)
	}
	if w.RelaxationMaxIterations < 1 {
		return fmt.Errorf("world.relaxationMaxIterations must be >= 1, got %d", w.RelaxationMaxIterations)
	}
	if w.DesiredPlateCount < 1 {
		return fmt.Errorf("world.desiredPlateCount must be >= 1, got %d", w.DesiredPlateCount)
	}
	if w.Hotspots.Count < 0 {
		return fmt.Errorf("world.hotspots.count must be >= 0, got %d", w.Hotspots.Count)
	}
	return nil
}
