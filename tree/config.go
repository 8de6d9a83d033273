package tree

import (
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/pagefile"
)

// DefaultRelativeMinFill is the minimum fill fraction of non-root nodes.
const DefaultRelativeMinFill = 0.4

// minCapacity is the smallest node capacity a split can work with.
const minCapacity = 2

// Config holds the parameters fixed at tree creation.
type Config struct {
	// PageSize is the physical page size. 0 accepts whatever the page file uses.
	PageSize int `mapstructure:"page_size"`

	// Capacity is the maximum number of entries per node. 0 derives it from
	// the page payload size and the entry size.
	Capacity int `mapstructure:"capacity"`

	// RelativeMinFill is the fraction of Capacity every non-root node must hold.
	RelativeMinFill float64 `mapstructure:"relative_min_fill"`

	// Dim is the dimensionality of the indexed keys. 0 on reopen takes the
	// stored value.
	Dim int `mapstructure:"dim"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		PageSize:        pagefile.DefaultPageSize,
		RelativeMinFill: DefaultRelativeMinFill,
	}
}

// Validate checks the static parameters. Capacity feasibility against a
// page size is checked when the tree is created.
func (c Config) Validate() error {
	if c.PageSize != 0 && (c.PageSize < pagefile.MinPageSize || c.PageSize > pagefile.MaxPageSize) {
		return &index.ConfigError{Field: "PageSize", Value: c.PageSize, Reason: fmt.Sprintf("must be within [%d, %d]", pagefile.MinPageSize, pagefile.MaxPageSize)}
	}
	if c.Capacity != 0 && c.Capacity < minCapacity {
		return &index.ConfigError{Field: "Capacity", Value: c.Capacity, Reason: fmt.Sprintf("must be at least %d", minCapacity)}
	}
	if math.IsNaN(c.RelativeMinFill) || c.RelativeMinFill <= 0 || c.RelativeMinFill >= 1 {
		return &index.ConfigError{Field: "RelativeMinFill", Value: c.RelativeMinFill, Reason: "must be within (0, 1)"}
	}
	if c.Dim < 0 {
		return &index.ConfigError{Field: "Dim", Value: c.Dim, Reason: "must not be negative"}
	}
	if c.Capacity != 0 {
		if _, err := MinFill(c.Capacity, c.RelativeMinFill); err != nil {
			return err
		}
	}
	return nil
}

// MinFill returns ceil(capacity * relativeMinFill), at least 1. A minimum
// fill above capacity/2 cannot be honored by a split and is rejected.
func MinFill(capacity int, relativeMinFill float64) (int, error) {
	m := int(math.Ceil(float64(capacity)*relativeMinFill - 1e-9))
	if m < 1 {
		m = 1
	}
	if m > capacity/2 {
		return 0, &index.ConfigError{
			Field:  "RelativeMinFill",
			Value:  relativeMinFill,
			Reason: fmt.Sprintf("min fill %d exceeds half of capacity %d", m, capacity),
		}
	}
	return m, nil
}

// ResolveCapacity returns the node capacity for a payload size and entry
// size. A configured Capacity must fit into one page.
func (c Config) ResolveCapacity(payloadSize, entrySize int) (int, error) {
	fit := (payloadSize - nodeHeaderSize) / entrySize
	if fit < minCapacity {
		return 0, &index.ConfigError{
			Field:  "PageSize",
			Value:  payloadSize + 4,
			Reason: fmt.Sprintf("fits only %d entries of %d bytes", fit, entrySize),
		}
	}
	if c.Capacity == 0 {
		return fit, nil
	}
	if c.Capacity > fit {
		return 0, &index.ConfigError{
			Field:  "Capacity",
			Value:  c.Capacity,
			Reason: fmt.Sprintf("a page fits at most %d entries of %d bytes", fit, entrySize),
		}
	}
	return c.Capacity, nil
}

// ConfigFromMap decodes m over DefaultConfig. Keys use the mapstructure
// tags of Config; unknown keys are rejected.
func ConfigFromMap(m map[string]any) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(m); err != nil {
		return Config{}, fmt.Errorf("%w: %w", index.ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
