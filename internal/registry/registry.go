// Package registry maps asset-class keys to the storage handles that serve
// them. It is built once at startup and read-only afterwards.
package registry

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"marketpanel/internal/model"
)

// AssetSpec names the four tables that hold one asset class.
type AssetSpec struct {
	Key             string `yaml:"key" validate:"required,sqlident"`
	SymbolsTable    string `yaml:"symbols_table" validate:"sqlident"`
	PricesTable     string `yaml:"prices_table" validate:"sqlident"`
	IndicatorsTable string `yaml:"indicators_table" validate:"sqlident"`
	StatsTable      string `yaml:"stats_table" validate:"sqlident"`
}

// File is the on-disk registry document.
type File struct {
	Assets     []AssetSpec `yaml:"assets" validate:"required,min=1,unique=Key,dive"`
	Timeframes []string    `yaml:"timeframes" default:"[\"1d\",\"1wk\",\"1mo\"]" validate:"min=1,dive,oneof=1d 1wk 1mo"`
}

// Built-in asset classes, in refresh order.
var defaultKeys = []string{
	"india_equity", "usa_equity", "india_index", "global_index",
	"commodity", "crypto", "forex",
}

// Default returns the registry of the seven built-in asset classes.
func Default() *File {
	f := &File{}
	for _, k := range defaultKeys {
		f.Assets = append(f.Assets, AssetSpec{Key: k})
	}
	_ = defaults.Set(f)
	f.fill()
	return f
}

// Load reads a registry file. An empty path returns Default.
func Load(path string) (*File, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a registry document.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("registry parse: %w", err)
	}
	if err := defaults.Set(f); err != nil {
		return nil, fmt.Errorf("registry defaults: %w", err)
	}
	f.fill()
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("registry validate: %w", err)
	}
	return f, nil
}

// fill derives unset table names from the asset key.
func (f *File) fill() {
	for i := range f.Assets {
		a := &f.Assets[i]
		if a.SymbolsTable == "" {
			a.SymbolsTable = a.Key + "_symbols"
		}
		if a.PricesTable == "" {
			a.PricesTable = a.Key + "_price_data"
		}
		if a.IndicatorsTable == "" {
			a.IndicatorsTable = a.Key + "_indicators"
		}
		if a.StatsTable == "" {
			a.StatsTable = a.Key + "_52week_stats"
		}
	}
}

var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
	validate = newValidator()
)

// Table names are interpolated into SQL, so they must be plain identifiers.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return identRe.MatchString(fl.Field().String())
	})
	return v
}

// Handles are the storage ports bound to one asset class.
type Handles struct {
	Asset      string
	Symbols    model.SymbolSource
	Prices     model.PriceSource
	Indicators model.IndicatorSink
	Stats      model.StatsSink
}

// Opener binds an asset spec to a storage backend.
type Opener func(spec AssetSpec) (Handles, error)

// Registry resolves asset keys to handles.
type Registry struct {
	keys       []string
	handles    map[string]Handles
	timeframes []model.Timeframe
}

// New opens every asset in f with open.
func New(f *File, open Opener) (*Registry, error) {
	tfs, err := model.ParseTimeframes(f.Timeframes)
	if err != nil {
		return nil, err
	}
	r := &Registry{handles: make(map[string]Handles, len(f.Assets)), timeframes: tfs}
	for _, spec := range f.Assets {
		h, err := open(spec)
		if err != nil {
			return nil, fmt.Errorf("registry open %s: %w", spec.Key, err)
		}
		h.Asset = spec.Key
		r.keys = append(r.keys, spec.Key)
		r.handles[spec.Key] = h
	}
	return r, nil
}

// Keys returns every asset key in registry order.
func (r *Registry) Keys() []string { return append([]string(nil), r.keys...) }

// Timeframes returns the timeframes refreshed by default.
func (r *Registry) Timeframes() []model.Timeframe {
	return append([]model.Timeframe(nil), r.timeframes...)
}

// Resolve returns the handles for key, or a *model.ConfigError.
func (r *Registry) Resolve(key string) (Handles, error) {
	h, ok := r.handles[key]
	if !ok {
		return Handles{}, &model.ConfigError{Kind: "asset", Key: key}
	}
	return h, nil
}

// ResolveAll resolves keys in order; an empty list means every asset. The
// first unknown key fails the whole call.
func (r *Registry) ResolveAll(keys []string) ([]Handles, error) {
	if len(keys) == 0 {
		keys = r.keys
	}
	out := make([]Handles, 0, len(keys))
	for _, k := range keys {
		h, err := r.Resolve(k)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// IsConfigError reports whether err is, or wraps, a *model.ConfigError.
func IsConfigError(err error) bool {
	var ce *model.ConfigError
	return errors.As(err, &ce)
}
