package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
)

// Overrides are per-run settings layered on top of a crawl.Config. Nil fields
// leave the base value untouched. Durations accept Go duration strings or
// numbers of seconds.
type Overrides struct {
	BaseURL   *string        `json:"base_url"`
	MaxPages  *int           `json:"max_pages"`
	StartPage *int           `json:"start_page"`
	DelayMin  *time.Duration `json:"delay_min"`
	DelayMax  *time.Duration `json:"delay_max"`
	Timeout   *time.Duration `json:"timeout"`
	Headless  *bool          `json:"headless"`
	DataDir   *string        `json:"data_dir"`
	UserAgent *string        `json:"user_agent"`
	CacheTTL  *time.Duration `json:"cache_ttl"`
	// Days is the incremental lookback; it is not part of crawl.Config.
	Days *int `json:"days"`
}

// crawlerSection is the key wrapping overrides in a settings document.
const crawlerSection = "crawler"

// DecodeOverrides decodes raw into Overrides. raw may be the bare field map or
// a document with the fields under "crawler". Unknown keys are rejected.
func DecodeOverrides(raw map[string]any) (Overrides, error) {
	var o Overrides
	if len(raw) == 0 {
		return o, nil
	}
	if section, ok := raw[crawlerSection]; ok && len(raw) == 1 {
		m, isMap := section.(map[string]any)
		if !isMap {
			return o, fmt.Errorf("decode overrides: %q must be a mapping", crawlerSection)
		}
		raw = m
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.DecodeHookFuncType(durationHook),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "json",
		Result:           &o,
	})
	if err != nil {
		return o, fmt.Errorf("create overrides decoder: %w", err)
	}
	if err = dec.Decode(raw); err != nil {
		return Overrides{}, fmt.Errorf("decode overrides: %w", err)
	}
	return o, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook turns strings and bare numbers of seconds into time.Duration.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return crawl.ParseDuration(data.(string))
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if from == durationType {
			return data, nil
		}
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	default:
		return data, nil
	}
}

// Empty reports whether no field is set.
func (o Overrides) Empty() bool {
	return o == Overrides{}
}

// Apply returns a validated copy of base with the set fields replaced.
func (o Overrides) Apply(base crawl.Config) (crawl.Config, error) {
	var opts []crawl.Option
	if o.BaseURL != nil {
		opts = append(opts, crawl.WithBaseURL(*o.BaseURL))
	}
	if o.MaxPages != nil {
		opts = append(opts, crawl.WithMaxPages(*o.MaxPages))
	}
	if o.StartPage != nil {
		opts = append(opts, crawl.WithStartPage(*o.StartPage))
	}
	if o.DelayMin != nil || o.DelayMax != nil {
		minDelay, maxDelay := base.DelayMin, base.DelayMax
		if o.DelayMin != nil {
			minDelay = *o.DelayMin
		}
		if o.DelayMax != nil {
			maxDelay = *o.DelayMax
		}
		opts = append(opts, crawl.WithDelayRange(minDelay, maxDelay))
	}
	if o.Timeout != nil {
		opts = append(opts, crawl.WithTimeout(*o.Timeout))
	}
	if o.Headless != nil {
		opts = append(opts, crawl.WithHeadless(*o.Headless))
	}
	if o.DataDir != nil {
		opts = append(opts, crawl.WithDataDir(*o.DataDir))
	}
	if o.UserAgent != nil {
		opts = append(opts, crawl.WithUserAgent(*o.UserAgent))
	}
	if o.CacheTTL != nil {
		opts = append(opts, crawl.WithCacheTTL(*o.CacheTTL))
	}
	cfg, err := base.With(opts...)
	if err != nil {
		return crawl.Config{}, fmt.Errorf("apply overrides: %w", err)
	}
	return cfg, nil
}

// FromConfig captures the user-editable settings of cfg, the set persisted by
// SaveOverrides.
func FromConfig(cfg crawl.Config) Overrides {
	return Overrides{
		DelayMin:  &cfg.DelayMin,
		DelayMax:  &cfg.DelayMax,
		Timeout:   &cfg.Timeout,
		DataDir:   &cfg.DataDir,
		UserAgent: &cfg.UserAgent,
		CacheTTL:  &cfg.CacheTTL,
	}
}

// fields renders the set fields with durations as strings so the document
// decodes back through durationHook.
func (o Overrides) fields() map[string]any {
	m := map[string]any{}
	putString := func(k string, v *string) {
		if v != nil {
			m[k] = *v
		}
	}
	putInt := func(k string, v *int) {
		if v != nil {
			m[k] = *v
		}
	}
	putDuration := func(k string, v *time.Duration) {
		if v != nil {
			m[k] = v.String()
		}
	}
	putString("base_url", o.BaseURL)
	putInt("max_pages", o.MaxPages)
	putInt("start_page", o.StartPage)
	putDuration("delay_min", o.DelayMin)
	putDuration("delay_max", o.DelayMax)
	putDuration("timeout", o.Timeout)
	if o.Headless != nil {
		m["headless"] = *o.Headless
	}
	putString("data_dir", o.DataDir)
	putString("user_agent", o.UserAgent)
	putDuration("cache_ttl", o.CacheTTL)
	putInt("days", o.Days)
	return m
}

// LoadOverrides reads a JSON or YAML settings document. A missing file yields
// empty overrides.
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, nil
		}
		return Overrides{}, fmt.Errorf("read overrides: %w", err)
	}
	var raw map[string]any
	if err = yaml.Unmarshal(data, &raw); err != nil {
		return Overrides{}, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	return DecodeOverrides(raw)
}

// SaveOverrides writes o under "crawler". A .json path is written as JSON,
// anything else as YAML.
func SaveOverrides(path string, o Overrides) error {
	doc := map[string]any{crawlerSection: o.fields()}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create overrides dir: %w", err)
	}
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write overrides: %w", err)
	}
	return nil
}
