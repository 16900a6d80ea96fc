// Package config loads run configuration from YAML or INI files layered
// over embedded defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"petri/internal/evo"
	"petri/internal/genome"
	"petri/internal/nn"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds every tunable of a run.
type Config struct {
	Run        RunConfig        `yaml:"run" ini:"run"`
	Network    NetworkConfig    `yaml:"network" ini:"network"`
	Mutation   MutationConfig   `yaml:"mutation" ini:"mutation"`
	Speciation SpeciationConfig `yaml:"speciation" ini:"speciation"`
	Culture    CultureConfig    `yaml:"culture" ini:"culture"`
	Scape      ScapeConfig      `yaml:"scape" ini:"scape"`
	Storage    StorageConfig    `yaml:"storage" ini:"storage"`
	Logging    LoggingConfig    `yaml:"logging" ini:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" ini:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-" ini:"-"`
}

type RunConfig struct {
	PopulationID string `yaml:"population_id" ini:"population_id"`
	Cultures     int    `yaml:"cultures" ini:"cultures"`
	// Generations stops the run once every culture reaches it. Zero runs
	// until interrupted.
	Generations int `yaml:"generations" ini:"generations"`
	// FitnessGoal stops the run once a champion reaches it. Zero disables.
	FitnessGoal float64 `yaml:"fitness_goal" ini:"fitness_goal"`
	Seed        int64   `yaml:"seed" ini:"seed"`
}

type NetworkConfig struct {
	PerceptionFrequency int     `yaml:"perception_frequency" ini:"perception_frequency"`
	ConvergenceFactor   int     `yaml:"convergence_factor" ini:"convergence_factor"`
	Epsilon             float64 `yaml:"epsilon" ini:"epsilon"`
	ClockPulse          float64 `yaml:"clock_pulse" ini:"clock_pulse"`
	SilenceLimit        int     `yaml:"silence_limit" ini:"silence_limit"`
}

type MutationConfig struct {
	Probability   float64 `yaml:"probability" ini:"probability"`
	GrowthPercent float64 `yaml:"growth_percent" ini:"growth_percent"`
	DeleteEdge    float64 `yaml:"delete_edge" ini:"delete_edge"`
	Alter         float64 `yaml:"alter" ini:"alter"`
	CreateEdge    float64 `yaml:"create_edge" ini:"create_edge"`
	Walk          float64 `yaml:"walk" ini:"walk"`
	Spawn         float64 `yaml:"spawn" ini:"spawn"`
	DeleteNeuron  float64 `yaml:"delete_neuron" ini:"delete_neuron"`
	WeightPower   float64 `yaml:"weight_power" ini:"weight_power"`
}

type SpeciationConfig struct {
	Threshold     float64 `yaml:"threshold" ini:"threshold"`
	DisjointCoeff float64 `yaml:"disjoint_coeff" ini:"disjoint_coeff"`
	WeightCoeff   float64 `yaml:"weight_coeff" ini:"weight_coeff"`
	TargetSpecies int     `yaml:"target_species" ini:"target_species"`
	MinThreshold  float64 `yaml:"min_threshold" ini:"min_threshold"`
	MaxThreshold  float64 `yaml:"max_threshold" ini:"max_threshold"`
	ThresholdStep float64 `yaml:"threshold_step" ini:"threshold_step"`
}

type CultureConfig struct {
	// Direction overrides the scape's natural fitness direction when set.
	Direction              string   `yaml:"direction" ini:"direction"`
	PopulationSize         int      `yaml:"population_size" ini:"population_size"`
	OffspringPerGeneration int      `yaml:"offspring_per_generation" ini:"offspring_per_generation"`
	TournamentSize         int      `yaml:"tournament_size" ini:"tournament_size"`
	MateAttempts           int      `yaml:"mate_attempts" ini:"mate_attempts"`
	StagnationLimit        int      `yaml:"stagnation_limit" ini:"stagnation_limit"`
	ChildCap               int      `yaml:"child_cap" ini:"child_cap"`
	Policies               []string `yaml:"policies" ini:"policies"`
}

type ScapeConfig struct {
	// Name is one of xor, csv or cart-pole.
	Name           string    `yaml:"name" ini:"name"`
	CSVPath        string    `yaml:"csv_path" ini:"csv_path"`
	InputColumns   []string  `yaml:"input_columns" ini:"input_columns"`
	OutputColumns  []string  `yaml:"output_columns" ini:"output_columns"`
	TestFraction   float64   `yaml:"test_fraction" ini:"test_fraction"`
	SampleCount    int       `yaml:"sample_count" ini:"sample_count"`
	Random         bool      `yaml:"random" ini:"random"`
	Workers        int       `yaml:"workers" ini:"workers"`
	Steps          int       `yaml:"steps" ini:"steps"`
	StartPositions []float64 `yaml:"start_positions" ini:"start_positions"`
}

type StorageConfig struct {
	// Kind is memory, sqlite or badger.
	Kind          string `yaml:"kind" ini:"kind"`
	Path          string `yaml:"path" ini:"path"`
	PersistOnStop bool   `yaml:"persist_on_stop" ini:"persist_on_stop"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" ini:"level"`
	Format string `yaml:"format" ini:"format"`
}

type TelemetryConfig struct {
	MetricsAddr  string `yaml:"metrics_addr" ini:"metrics_addr"`
	ChampionsCSV string `yaml:"champions_csv" ini:"champions_csv"`
}

// DerivedConfig holds engine-facing values built from the loaded sections.
type DerivedConfig struct {
	Direction evo.Direction
	Network   nn.Options
	Mutation  nn.MutationConfig
	Culture   evo.CultureConfig
}

// Default returns the embedded defaults.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the embedded defaults and merges the file at path over them.
// The file format follows the extension: .yaml/.yml or .ini/.cfg. An empty
// path yields the defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			// Only fields present in the file are overwritten.
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case ".ini", ".cfg":
			if err := cfg.mergeINI(path); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported config format: %s", path)
		}
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve validates the sections and rebuilds Derived from them. Call it
// again after changing fields of a loaded config.
func (c *Config) Resolve() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return c.computeDerived()
}

func (c *Config) mergeINI(path string) error {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, path)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", path, err)
	}
	sections := []struct {
		name   string
		target any
	}{
		{"run", &c.Run},
		{"network", &c.Network},
		{"mutation", &c.Mutation},
		{"speciation", &c.Speciation},
		{"culture", &c.Culture},
		{"scape", &c.Scape},
		{"storage", &c.Storage},
		{"logging", &c.Logging},
		{"telemetry", &c.Telemetry},
	}
	for _, s := range sections {
		if !file.HasSection(s.name) {
			continue
		}
		// MapTo leaves fields without a key untouched.
		if err := file.Section(s.name).MapTo(s.target); err != nil {
			return fmt.Errorf("failed to map [%s] section: %w", s.name, err)
		}
	}
	return nil
}

// Validate checks value ranges that the engine cannot normalize itself.
func (c *Config) Validate() error {
	switch {
	case c.Run.Cultures <= 0:
		return fmt.Errorf("config error: run.cultures must be > 0")
	case c.Run.Generations < 0:
		return fmt.Errorf("config error: run.generations must be >= 0")
	case c.Network.PerceptionFrequency != 0 && c.Network.PerceptionFrequency < 3:
		return fmt.Errorf("config error: network.perception_frequency must be 0 or >= 3, got %d", c.Network.PerceptionFrequency)
	case c.Network.ConvergenceFactor <= 0:
		return fmt.Errorf("config error: network.convergence_factor must be > 0")
	case c.Network.Epsilon <= 0:
		return fmt.Errorf("config error: network.epsilon must be > 0")
	case c.Network.SilenceLimit <= 0:
		return fmt.Errorf("config error: network.silence_limit must be > 0")
	case c.Mutation.Probability < 0 || c.Mutation.Probability > 1:
		return fmt.Errorf("config error: mutation.probability must be in [0, 1]")
	case c.Mutation.GrowthPercent <= 0:
		return fmt.Errorf("config error: mutation.growth_percent must be > 0")
	case c.Mutation.WeightPower <= 0:
		return fmt.Errorf("config error: mutation.weight_power must be > 0")
	case c.Speciation.Threshold <= 0:
		return fmt.Errorf("config error: speciation.threshold must be > 0")
	case c.Speciation.MinThreshold > c.Speciation.MaxThreshold:
		return fmt.Errorf("config error: speciation.min_threshold exceeds max_threshold")
	case c.Culture.PopulationSize <= 0:
		return fmt.Errorf("config error: culture.population_size must be > 0")
	case c.Culture.TournamentSize <= 0:
		return fmt.Errorf("config error: culture.tournament_size must be > 0")
	case c.Scape.TestFraction < 0 || c.Scape.TestFraction >= 1:
		return fmt.Errorf("config error: scape.test_fraction must be in [0, 1)")
	}
	for _, p := range []float64{
		c.Mutation.DeleteEdge, c.Mutation.Alter, c.Mutation.CreateEdge,
		c.Mutation.Walk, c.Mutation.Spawn, c.Mutation.DeleteNeuron,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("config error: mutation operator probabilities must be in [0, 1], got %v", p)
		}
	}
	switch c.Scape.Name {
	case "xor", "cart-pole":
	case "csv":
		if strings.TrimSpace(c.Scape.CSVPath) == "" {
			return fmt.Errorf("config error: scape.csv_path is required for the csv scape")
		}
	default:
		return fmt.Errorf("config error: unknown scape %q", c.Scape.Name)
	}
	switch c.Storage.Kind {
	case "", "memory", "sqlite", "badger":
	default:
		return fmt.Errorf("config error: unsupported storage kind %q", c.Storage.Kind)
	}
	return nil
}

// NaturalDirection is the fitness direction of the configured scape:
// supervised scapes minimize error, interactive ones maximize reward.
func (c *Config) NaturalDirection() evo.Direction {
	if c.Scape.Name == "cart-pole" {
		return evo.Maximize
	}
	return evo.Minimize
}

func (c *Config) computeDerived() error {
	dir := c.NaturalDirection()
	if strings.TrimSpace(c.Culture.Direction) != "" {
		var err error
		if dir, err = evo.ParseDirection(c.Culture.Direction); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	policies := make([]genome.Policy, 0, len(c.Culture.Policies))
	for _, name := range c.Culture.Policies {
		p, err := genome.ParsePolicy(name)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		policies = append(policies, p)
	}
	if len(policies) == 0 {
		return fmt.Errorf("config error: culture.policies must not be empty")
	}

	c.Derived.Direction = dir
	c.Derived.Network = nn.Options{
		PerceptionFrequency: c.Network.PerceptionFrequency,
		ConvergenceFactor:   c.Network.ConvergenceFactor,
		Epsilon:             c.Network.Epsilon,
		ClockPulse:          c.Network.ClockPulse,
		SilenceLimit:        c.Network.SilenceLimit,
	}
	c.Derived.Mutation = nn.MutationConfig{
		Probability:   c.Mutation.Probability,
		GrowthPercent: c.Mutation.GrowthPercent,
		DeleteEdge:    c.Mutation.DeleteEdge,
		Alter:         c.Mutation.Alter,
		CreateEdge:    c.Mutation.CreateEdge,
		Walk:          c.Mutation.Walk,
		Spawn:         c.Mutation.Spawn,
		DeleteNeuron:  c.Mutation.DeleteNeuron,
		WeightPower:   c.Mutation.WeightPower,
	}
	c.Derived.Culture = evo.CultureConfig{
		Direction:              dir,
		PopulationSize:         c.Culture.PopulationSize,
		OffspringPerGeneration: c.Culture.OffspringPerGeneration,
		TournamentSize:         c.Culture.TournamentSize,
		MateAttempts:           c.Culture.MateAttempts,
		StagnationLimit:        c.Culture.StagnationLimit,
		ChildCap:               c.Culture.ChildCap,
		Speciation: evo.SpeciationConfig{
			Threshold:     c.Speciation.Threshold,
			DisjointCoeff: c.Speciation.DisjointCoeff,
			WeightCoeff:   c.Speciation.WeightCoeff,
			TargetSpecies: c.Speciation.TargetSpecies,
			MinThreshold:  c.Speciation.MinThreshold,
			MaxThreshold:  c.Speciation.MaxThreshold,
			ThresholdStep: c.Speciation.ThresholdStep,
		},
		Mutation: c.Derived.Mutation,
		Network:  c.Derived.Network,
		Policies: policies,
		Seed:     c.Run.Seed,
	}
	return c.Derived.Culture.Validate()
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
