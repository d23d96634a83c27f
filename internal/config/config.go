package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

//go:embed schema.json
var schemaJSON string

// Curve selects the shape of the building saturation penalty.
type Curve string

const (
	CurveLinear      Curve = "linear"
	CurveLogarithmic Curve = "logarithmic"
	CurveSquareRoot  Curve = "square_root"
)

// MarketConfig holds the tuning knobs of the pricing engine.
type MarketConfig struct {
	MaxPriceChangePercent float64 `yaml:"max_price_change_percent" json:"max_price_change_percent"` // per-round swing bound
	SaturationBasePercent float64 `yaml:"saturation_base_percent" json:"saturation_base_percent"`   // share of players at which a type counts as saturated
	SaturationMaxPenalty  float64 `yaml:"saturation_max_penalty" json:"saturation_max_penalty"`
	SaturationCurve       Curve   `yaml:"saturation_curve" json:"saturation_curve"`
	MinPriceModifier      float64 `yaml:"min_price_modifier" json:"min_price_modifier"` // floor, as a multiple of base price
	MaxPriceModifier      float64 `yaml:"max_price_modifier" json:"max_price_modifier"` // ceiling, as a multiple of base price
	MinIncomeModifier     float64 `yaml:"min_income_modifier" json:"min_income_modifier"`
	MaxIncomeModifier     float64 `yaml:"max_income_modifier" json:"max_income_modifier"`
}

// DefaultMarket returns the balance the default tables were tuned against.
func DefaultMarket() MarketConfig {
	return MarketConfig{
		MaxPriceChangePercent: 50,
		SaturationBasePercent: 20,
		SaturationMaxPenalty:  0.5,
		SaturationCurve:       CurveLogarithmic,
		MinPriceModifier:      0.3,
		MaxPriceModifier:      3.0,
		MinIncomeModifier:     0.5,
		MaxIncomeModifier:     2.0,
	}
}

type ResourceDef struct {
	Name      string  `yaml:"name" json:"name"`
	BasePrice float64 `yaml:"base_price" json:"base_price"`
}

// Income is what one active building yields per round before modifiers.
type Income struct {
	Coins     float64            `yaml:"coins" json:"coins"`
	Resources map[string]float64 `yaml:"resources" json:"resources,omitempty"`
}

type BuildingDef struct {
	Name               string         `yaml:"name" json:"name"`
	Cost               map[string]int `yaml:"cost" json:"cost"`
	Income             Income         `yaml:"income" json:"income"`
	ConstructionRounds int            `yaml:"construction_rounds" json:"construction_rounds"` // informational; construction always takes one round
}

type EventDef struct {
	Name              string             `yaml:"name" json:"name"`
	Description       string             `yaml:"description" json:"description"`
	ResourceModifiers map[string]float64 `yaml:"resource_modifiers" json:"resource_modifiers,omitempty"`
	BuildingModifiers map[string]float64 `yaml:"building_modifiers" json:"building_modifiers,omitempty"`
}

// EventPair names one curated positive/negative combination.
type EventPair struct {
	Positive string `yaml:"positive" json:"positive"`
	Negative string `yaml:"negative" json:"negative"`
}

type EventTables struct {
	Positive []EventDef  `yaml:"positive" json:"positive"`
	Negative []EventDef  `yaml:"negative" json:"negative"`
	Pairs    []EventPair `yaml:"pairs" json:"pairs"`
}

// Config is the immutable table set a game is created from.
type Config struct {
	StartingMoney  float64       `yaml:"starting_money" json:"starting_money"`
	PlayerCapacity int           `yaml:"player_capacity" json:"player_capacity"`
	Market         MarketConfig  `yaml:"market" json:"market"`
	Resources      []ResourceDef `yaml:"resources" json:"resources"`
	Buildings      []BuildingDef `yaml:"buildings" json:"buildings"`
	Events         EventTables   `yaml:"events" json:"events"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("config.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Load reads a YAML table file from disk.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the embedded default tables.
func Default() (Config, error) {
	cfg, err := Parse(defaultYAML)
	if err != nil {
		return Config{}, fmt.Errorf("default.yaml: %w", err)
	}
	return cfg, nil
}

// Parse validates raw YAML against the table schema, decodes it and checks
// cross references. Omitted scalar settings keep their defaults.
func Parse(raw []byte) (Config, error) {
	if err := validateDocument(raw); err != nil {
		return Config{}, err
	}
	cfg := Config{
		StartingMoney:  1000,
		PlayerCapacity: 10,
		Market:         DefaultMarket(),
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateDocument(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	// The schema validator expects JSON-shaped values.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// Validate checks the invariants the schema cannot express.
func (c Config) Validate() error {
	if c.PlayerCapacity <= 0 {
		return fmt.Errorf("player_capacity must be positive")
	}
	if c.StartingMoney < 0 {
		return fmt.Errorf("starting_money must not be negative")
	}
	m := c.Market
	if m.MinPriceModifier > m.MaxPriceModifier {
		return fmt.Errorf("market: min_price_modifier exceeds max_price_modifier")
	}
	if m.MinIncomeModifier > m.MaxIncomeModifier {
		return fmt.Errorf("market: min_income_modifier exceeds max_income_modifier")
	}
	switch m.SaturationCurve {
	case CurveLinear, CurveLogarithmic, CurveSquareRoot:
	default:
		return fmt.Errorf("market: unknown saturation_curve %q", m.SaturationCurve)
	}

	resources := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if resources[r.Name] {
			return fmt.Errorf("resource %q defined twice", r.Name)
		}
		if r.BasePrice <= 0 {
			return fmt.Errorf("resource %q: base_price must be positive", r.Name)
		}
		resources[r.Name] = true
	}
	buildings := make(map[string]bool, len(c.Buildings))
	for _, b := range c.Buildings {
		if buildings[b.Name] {
			return fmt.Errorf("building %q defined twice", b.Name)
		}
		buildings[b.Name] = true
		for res := range b.Cost {
			if !resources[res] {
				return fmt.Errorf("building %q: cost references unknown resource %q", b.Name, res)
			}
		}
		for res := range b.Income.Resources {
			if !resources[res] {
				return fmt.Errorf("building %q: income references unknown resource %q", b.Name, res)
			}
		}
	}

	positive, err := checkEvents("positive", c.Events.Positive, resources, buildings)
	if err != nil {
		return err
	}
	negative, err := checkEvents("negative", c.Events.Negative, resources, buildings)
	if err != nil {
		return err
	}
	if len(c.Events.Pairs) == 0 {
		return fmt.Errorf("events: at least one pair is required")
	}
	for i, p := range c.Events.Pairs {
		if !positive[p.Positive] {
			return fmt.Errorf("events: pair %d references unknown positive event %q", i, p.Positive)
		}
		if !negative[p.Negative] {
			return fmt.Errorf("events: pair %d references unknown negative event %q", i, p.Negative)
		}
	}
	return nil
}

func checkEvents(kind string, defs []EventDef, resources, buildings map[string]bool) (map[string]bool, error) {
	names := make(map[string]bool, len(defs))
	for _, e := range defs {
		if names[e.Name] {
			return nil, fmt.Errorf("events: %s event %q defined twice", kind, e.Name)
		}
		names[e.Name] = true
		for res := range e.ResourceModifiers {
			if !resources[res] {
				return nil, fmt.Errorf("events: %q modifies unknown resource %q", e.Name, res)
			}
		}
		for b := range e.BuildingModifiers {
			if !buildings[b] {
				return nil, fmt.Errorf("events: %q modifies unknown building %q", e.Name, b)
			}
		}
	}
	return names, nil
}

// Resource looks up a resource definition by name.
func (c Config) Resource(name string) (ResourceDef, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceDef{}, false
}

// Building looks up a building definition by name.
func (c Config) Building(name string) (BuildingDef, bool) {
	for _, b := range c.Buildings {
		if b.Name == name {
			return b, true
		}
	}
	return BuildingDef{}, false
}

// BasePrices returns a fresh resource -> base price map.
func (c Config) BasePrices() map[string]float64 {
	out := make(map[string]float64, len(c.Resources))
	for _, r := range c.Resources {
		out[r.Name] = r.BasePrice
	}
	return out
}

func (c Config) ResourceNames() []string {
	out := make([]string, 0, len(c.Resources))
	for _, r := range c.Resources {
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

func (c Config) BuildingNames() []string {
	out := make([]string, 0, len(c.Buildings))
	for _, b := range c.Buildings {
		out = append(out, b.Name)
	}
	sort.Strings(out)
	return out
}
