package geo

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/dispatch-console/internal/models"
)

// Fleet is the YAML seed file format for local runs and the CLI:
//
//	drivers:
//	  - id: D1
//	    loc: {lat: 0.3326, lon: 32.5686}
//	    batteryPct: 78
//	    activeTripCount: 0
//	    vehicleLabel: Nissan Leaf UBA 123X
//	    online: true
type Fleet struct {
	Drivers []models.DriverTelemetry `yaml:"drivers"`
}

func LoadFleet(path string) (Fleet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, err
	}
	return ParseFleet(b)
}

func ParseFleet(b []byte) (Fleet, error) {
	var f Fleet
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Fleet{}, fmt.Errorf("parse fleet: %w", err)
	}
	for i, d := range f.Drivers {
		if d.ID == "" {
			return Fleet{}, fmt.Errorf("parse fleet: driver %d has no id", i)
		}
		if d.BatteryPct < 0 || d.BatteryPct > 100 {
			return Fleet{}, fmt.Errorf("parse fleet: driver %s battery %.1f out of range", d.ID, d.BatteryPct)
		}
	}
	return f, nil
}

// Upserter is satisfied by Index and RedisPool.
type Upserter interface {
	Upsert(ctx context.Context, d models.DriverTelemetry) error
}

func (f Fleet) Seed(ctx context.Context, u Upserter) error {
	for _, d := range f.Drivers {
		if err := u.Upsert(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
