// Package extract turns validated requests into per-day timeseries and
// raster exports by querying the engine once per window and reducing or
// folding the returned bands locally.
package extract

import (
	_ "embed"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/raster"
)

//go:embed datasets.yaml
var datasetsYAML []byte

// FoldKeys names the output fields of a sub-daily dataset's daily fold. An
// empty key drops that statistic from the output.
type FoldKeys struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
	Avg string `yaml:"avg"`
}

// Dataset is one catalog entry.
type Dataset struct {
	ID            string             `yaml:"-"`
	Name          string             `yaml:"name"`
	Collection    string             `yaml:"collection"`
	Variable      string             `yaml:"variable"`
	Granularity   raster.Granularity `yaml:"granularity"`
	ResolutionDeg float64            `yaml:"resolution_deg"`
	MaxSpanDays   int                `yaml:"max_span_days"`
	Convert       string             `yaml:"convert"`
	ValueKey      string             `yaml:"value_key"`
	FoldKeys      FoldKeys           `yaml:"fold_keys"`
	Units         map[string]string  `yaml:"units"`
	License       string             `yaml:"license"`
	Citation      string             `yaml:"citation"`
}

// SubDaily reports whether the dataset's native step is finer than a day.
func (d *Dataset) SubDaily() bool {
	return d.Granularity != raster.GranularityDaily
}

// ConvertValue maps a native cell value to output units. The sentinel passes
// through unchanged.
func (d *Dataset) ConvertValue(v float64) float64 {
	if v == raster.Sentinel {
		return v
	}
	switch d.Convert {
	case "kelvin_to_celsius":
		return v - 273.15
	case "fraction_to_percent":
		return v * 100
	default:
		return v
	}
}

// Catalog is the set of known datasets, loaded from the embedded manifest.
type Catalog struct {
	datasets map[string]*Dataset
}

// LoadCatalog parses the embedded dataset manifest.
func LoadCatalog() (*Catalog, error) {
	var doc struct {
		Datasets map[string]*Dataset `yaml:"datasets"`
	}
	if err := yaml.Unmarshal(datasetsYAML, &doc); err != nil {
		return nil, eris.Wrap(err, "extract: parse dataset manifest")
	}
	for id, d := range doc.Datasets {
		d.ID = id
	}
	return &Catalog{datasets: doc.Datasets}, nil
}

// Get looks up a dataset by id.
func (c *Catalog) Get(id string) (*Dataset, error) {
	d, ok := c.datasets[id]
	if !ok {
		return nil, derrors.Validationf(
			"use one of the ids from GET /datasets",
			"unknown dataset %q", id,
		)
	}
	return d, nil
}

// List returns all datasets sorted by id.
func (c *Catalog) List() []*Dataset {
	out := make([]*Dataset, 0, len(c.datasets))
	for _, d := range c.datasets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
