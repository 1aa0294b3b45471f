package matcher

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyFile tunes the engine without a rebuild:
//
//	policy: range
//	bands: {floorPct: 30, bufferPct: 40}
//	rangeAware: {kmPerPct: 2.5, reservePct: 10}
//	weights: {distance: 10, activeTrips: 15, battery: 20}
//
// Omitted sections keep their defaults.
type PolicyFile struct {
	Policy     string       `yaml:"policy"`
	Bands      BatteryBands `yaml:"bands"`
	RangeAware RangeAware   `yaml:"rangeAware"`
	Weights    Weights      `yaml:"weights"`
}

func DefaultPolicyFile() PolicyFile {
	return PolicyFile{Policy: "bands", Bands: DefaultBands(), RangeAware: DefaultRangeAware(), Weights: DefaultWeights()}
}

func LoadPolicyFile(path string) (PolicyFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, err
	}
	return ParsePolicyFile(b)
}

func ParsePolicyFile(b []byte) (PolicyFile, error) {
	pf := DefaultPolicyFile()
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return PolicyFile{}, fmt.Errorf("parse policy file: %w", err)
	}
	if _, err := PolicyByName(pf.Policy, pf); err != nil {
		return PolicyFile{}, err
	}
	if pf.Bands.FloorPct > pf.Bands.BufferPct {
		return PolicyFile{}, fmt.Errorf("parse policy file: floorPct %.0f above bufferPct %.0f", pf.Bands.FloorPct, pf.Bands.BufferPct)
	}
	if err := pf.Weights.Validate(); err != nil {
		return PolicyFile{}, fmt.Errorf("parse policy file: %w", err)
	}
	return pf, nil
}

// PolicyByName picks the suitability policy named "bands" or "range".
func PolicyByName(name string, pf PolicyFile) (Policy, error) {
	switch name {
	case "", "bands":
		return pf.Bands, nil
	case "range":
		return pf.RangeAware, nil
	}
	return nil, fmt.Errorf("unknown suitability policy %q", name)
}
