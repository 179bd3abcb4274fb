package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate(): %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"negative level", func(s *Settings) { s.Simulation.IcosphereLevel = -1 }, true},
		{"zero timestep", func(s *Settings) { s.Simulation.MinTimestep = 0 }, true},
		{"zero radius", func(s *Settings) { s.World.Radius = 0 }, true},
		{"negative erosion rate", func(s *Settings) { s.World.Erosion.MountainRate = -0.1 }, true},
		{"total flow loss", func(s *Settings) { s.World.Erosion.FlowLoss = 1 }, true},
		{"no plates", func(s *Settings) { s.World.DesiredPlateCount = 0 }, true},
		{"no hotspots", func(s *Settings) { s.World.Hotspots.Count = 0 }, false},
		{"min timestep above max", func(s *Settings) { s.Simulation.MinTimestep = 20 }, true},
		{"min timestep at max", func(s *Settings) { s.Simulation.MinTimestep = s.World.MaxTimestep }, false},
		{"zero oceanic cap", func(s *Settings) { s.World.Crust.OceanicCap = 0 }, true},
		{"zero continental cap", func(s *Settings) { s.World.Crust.ContinentalCap = 0 }, true},
		{"root reset above cap", func(s *Settings) { s.World.Crust.RootReset = s.World.Crust.RootCap + 1 }, true},
		{"oceanic reset above cap", func(s *Settings) { s.World.Crust.OceanicReset = s.World.Crust.OceanicCap + 1 }, true},
		{"no relaxation", func(s *Settings) { s.World.RelaxationMaxIterations = 0 }, true},
		{"NaN decay", func(s *Settings) { s.World.RelaxationDecay = math.NaN() }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.edit(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate: got %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsFirstField(t *testing.T) {
	s := Default()
	s.World.Radius = 0
	s.World.Hotspots.Density = -1
	s.World.Erosion.MountainRate = -1
	want := "world.radius must be > 0, got 0"
	for i := 0; i < 20; i++ {
		err := s.Validate()
		if err == nil || err.Error() != want {
			t.Fatalf("run %d: got %v, want %q", i, err, want)
		}
	}
}

func TestEnvName(t *testing.T) {
	tests := []struct {
		path []string
		want string
	}{
		{[]string{"World", "Radius"}, "WORLDBUILDER_WORLD_RADIUS"},
		{[]string{"World", "Erosion", "FlowLoss"}, "WORLDBUILDER_WORLD_EROSION_FLOW_LOSS"},
		{[]string{"Simulation", "IcosphereLevel"}, "WORLDBUILDER_SIMULATION_ICOSPHERE_LEVEL"},
	}
	for _, tt := range tests {
		if got := EnvName(tt.path...); got != tt.want {
			t.Errorf("EnvName(%v): got %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WORLDBUILDER_WORLD_RADIUS":            "3390",
		"WORLDBUILDER_WORLD_EROSION_FLOW_LOSS": "0.05",
		"WORLDBUILDER_SIMULATION_SEED":         "42",
		"WORLDBUILDER_SIMULATION_MAX_STEPS":    "7",
		"WORLDBUILDER_LOGGING_DEVELOPMENT":     "true",
		"WORLDBUILDER_LOGGING_LEVEL":           "debug",
		"WORLDBUILDER_WORLD_HOTSPOTS_COUNT":    "3",
		"WORLDBUILDER_SOMETHING_ELSE_ENTIRELY": "ignored",
	}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	s := Default()
	if err := ApplyEnv(&s, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if s.World.Radius != 3390 {
		t.Errorf("radius: got %v, want 3390", s.World.Radius)
	}
	if s.World.Erosion.FlowLoss != 0.05 {
		t.Errorf("flow loss: got %v, want 0.05", s.World.Erosion.FlowLoss)
	}
	if s.Simulation.Seed != 42 || s.Simulation.MaxSteps != 7 {
		t.Errorf("simulation: got seed %d steps %d, want 42 and 7", s.Simulation.Seed, s.Simulation.MaxSteps)
	}
	if !s.Logging.Development || s.Logging.Level != "debug" {
		t.Errorf("logging: got %+v", s.Logging)
	}
	if s.World.Hotspots.Count != 3 {
		t.Errorf("hotspots: got %d, want 3", s.World.Hotspots.Count)
	}
	if s.World.MantleDensity != Default().World.MantleDensity {
		t.Errorf("untouched field changed: got %v", s.World.MantleDensity)
	}
}

func TestApplyEnvRejectsBadValue(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "WORLDBUILDER_WORLD_RADIUS" {
			return "big", true
		}
		return "", false
	}
	s := Default()
	err := ApplyEnv(&s, lookup)
	if err == nil {
		t.Fatal("ApplyEnv: got nil error")
	}
	if !strings.Contains(err.Error(), "WORLDBUILDER_WORLD_RADIUS") {
		t.Errorf("error %q does not name the variable", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file uses defaults", func(t *testing.T) {
		s, err := Load(filepath.Join(dir, "missing.json"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if s.World.Radius != Default().World.Radius {
			t.Errorf("radius: got %v, want default", s.World.Radius)
		}
	})

	t.Run("file overlays defaults", func(t *testing.T) {
		path := filepath.Join(dir, "settings.json")
		data := `{"simulation": {"icosphereLevel": 3}, "world": {"erosion": {"shelfDepth": 150}}}`
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		s, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if s.Simulation.IcosphereLevel != 3 {
			t.Errorf("level: got %d, want 3", s.Simulation.IcosphereLevel)
		}
		if s.World.Erosion.ShelfDepth != 150 {
			t.Errorf("shelf depth: got %v, want 150", s.World.Erosion.ShelfDepth)
		}
		if s.World.Erosion.FlowLoss != Default().World.Erosion.FlowLoss {
			t.Errorf("flow loss: got %v, want default", s.World.Erosion.FlowLoss)
		}
	})

	t.Run("environment wins over file", func(t *testing.T) {
		path := filepath.Join(dir, "env.json")
		if err := os.WriteFile(path, []byte(`{"world": {"radius": 1000}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("WORLDBUILDER_WORLD_RADIUS", "2000")
		s, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if s.World.Radius != 2000 {
			t.Errorf("radius: got %v, want 2000", s.World.Radius)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(dir, "typo.json")
		if err := os.WriteFile(path, []byte(`{"world": {"radiuss": 1}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load: got nil error for unknown field")
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.json")
		if err := os.WriteFile(path, []byte(`{"world": {"waterDensity": -1}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load: got nil error for negative density")
		}
	})
}

func TestSchema(t *testing.T) {
	data, err := json.Marshal(Schema())
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	for _, want := range []string{"icosphereLevel", "flowLoss", "stickyDistanceKm", "Worldbuilder Settings"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema is missing %q", want)
		}
	}
}
