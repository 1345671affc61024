package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/terrama-collector/pkg/resource"
)

// ResourceConfig 配置文件中的一个采集资源
// interval/filter 保留字符串形式，逐条解析，单条错误不影响整体配置
type ResourceConfig struct {
	ID        string            `yaml:"id" mapstructure:"id"`
	Name      string            `yaml:"name" mapstructure:"name"`
	Semantics string            `yaml:"semantics" mapstructure:"semantics"`
	Interval  string            `yaml:"interval" mapstructure:"interval" comment:"\"5m\" 或秒数"`
	Active    *bool             `yaml:"active" mapstructure:"active" comment:"缺省为 true"`
	Provider  EndpointConfig    `yaml:"provider" mapstructure:"provider"`
	Output    EndpointConfig    `yaml:"output" mapstructure:"output"`
	Format    map[string]string `yaml:"format" mapstructure:"format"`
	Filter    FilterConfig      `yaml:"filter" mapstructure:"filter"`
}

// EndpointConfig 数据源或输出目标
type EndpointConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind"`
	URI  string `yaml:"uri" mapstructure:"uri"`
}

// FilterConfig 日期窗口，RFC3339 或 2006-01-02
type FilterConfig struct {
	DiscardBefore string `yaml:"discard_before" mapstructure:"discard_before"`
	DiscardAfter  string `yaml:"discard_after" mapstructure:"discard_after"`
}

// ToSpec converts the entry into a resource.Spec. Parse failures are
// reported as *resource.ConfigurationError.
func (r ResourceConfig) ToSpec() (resource.Spec, error) {
	interval, err := ParseInterval(r.Interval)
	if err != nil {
		return resource.Spec{}, resource.NewConfigurationError(r.ID, "invalid interval", err)
	}
	before, err := parseBound(r.Filter.DiscardBefore)
	if err != nil {
		return resource.Spec{}, resource.NewConfigurationError(r.ID, "invalid filter discard_before", err)
	}
	after, err := parseBound(r.Filter.DiscardAfter)
	if err != nil {
		return resource.Spec{}, resource.NewConfigurationError(r.ID, "invalid filter discard_after", err)
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return resource.Spec{
		ID:        r.ID,
		Name:      r.Name,
		Semantics: r.Semantics,
		Interval:  interval,
		Active:    active,
		Provider:  resource.Endpoint{Kind: strings.ToLower(r.Provider.Kind), URI: r.Provider.URI},
		Output:    resource.Endpoint{Kind: strings.ToLower(r.Output.Kind), URI: r.Output.URI},
		Format:    r.Format,
		Filter:    resource.Filter{DiscardBefore: before, DiscardAfter: after},
	}, nil
}

// Descriptors builds every configured resource. Entries that fail are
// returned as errors and left out; duplicated ids keep the first entry.
func (c *Config) Descriptors() ([]resource.Descriptor, []error) {
	var (
		out  []resource.Descriptor
		errs []error
		seen = make(map[string]bool, len(c.Resources))
	)
	for _, rc := range c.Resources {
		spec, err := rc.ToSpec()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d, err := resource.New(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[d.ID()] {
			errs = append(errs, resource.NewConfigurationError(d.ID(), "duplicated resource id", nil))
			continue
		}
		seen[d.ID()] = true
		out = append(out, d)
	}
	return out, errs
}

// ParseInterval accepts a Go duration ("90s", "5m") or a plain number of seconds.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("interval cannot be empty")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("interval %q is neither a duration nor seconds", s)
	}
	return d, nil
}

func parseBound(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("time %q must be RFC3339 or YYYY-MM-DD", s)
}
