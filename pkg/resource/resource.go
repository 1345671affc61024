package resource

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// MinInterval 最小采集间隔
	MinInterval = time.Second
	// MaxInterval 最大采集间隔
	MaxInterval = 24 * time.Hour
)

// Provider kinds
const (
	KindFile    = "file"
	KindHTTP    = "http"
	KindPostGIS = "postgis"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ErrConfiguration is matched by every ConfigurationError.
var ErrConfiguration = errors.New("resource configuration error")

// ConfigurationError 资源描述非法（仅影响该资源的注册，不影响整体服务）
type ConfigurationError struct {
	ResourceID string
	Reason     string
	Err        error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("resource %q: %s", e.ResourceID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

// NewConfigurationError builds a ConfigurationError for id.
func NewConfigurationError(id, reason string, err error) *ConfigurationError {
	return &ConfigurationError{ResourceID: id, Reason: reason, Err: err}
}

// Endpoint is an opaque reference to a provider or persistence target.
type Endpoint struct {
	Kind string
	URI  string
}

// Filter is the date window of interest of a resource. Nil bounds are open.
type Filter struct {
	DiscardBefore *time.Time
	DiscardAfter  *time.Time
}

// Accepts reports whether t falls inside the window.
func (f Filter) Accepts(t time.Time) bool {
	if f.DiscardBefore != nil && t.Before(*f.DiscardBefore) {
		return false
	}
	if f.DiscardAfter != nil && t.After(*f.DiscardAfter) {
		return false
	}
	return true
}

// Spec 资源描述的原始输入（通常来自配置文件）
type Spec struct {
	ID        string
	Name      string
	Semantics string
	Interval  time.Duration
	Active    bool
	Provider  Endpoint
	Output    Endpoint
	Format    map[string]string
	Filter    Filter
}

// Descriptor identifies one dataset that is collected periodically.
// It is immutable once built; copies share nothing mutable.
type Descriptor struct {
	id        string
	name      string
	semantics string
	interval  time.Duration
	active    bool
	provider  Endpoint
	output    Endpoint
	format    map[string]string
	filter    Filter
}

// New 校验并创建资源描述
func New(s Spec) (Descriptor, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return Descriptor{}, NewConfigurationError(s.ID, "id cannot be empty", nil)
	}
	if !idPattern.MatchString(id) {
		return Descriptor{}, NewConfigurationError(id, "id may only contain letters, digits, '.', '_' and '-'", nil)
	}
	if strings.TrimSpace(s.Semantics) == "" {
		return Descriptor{}, NewConfigurationError(id, "semantics cannot be empty", nil)
	}
	if s.Interval < MinInterval || s.Interval > MaxInterval {
		return Descriptor{}, NewConfigurationError(id,
			fmt.Sprintf("interval must be between %s and %s, got %s", MinInterval, MaxInterval, s.Interval), nil)
	}
	if s.Filter.DiscardBefore != nil && s.Filter.DiscardAfter != nil &&
		s.Filter.DiscardAfter.Before(*s.Filter.DiscardBefore) {
		return Descriptor{}, NewConfigurationError(id, "filter discard_after is before discard_before", nil)
	}

	name := s.Name
	if name == "" {
		name = id
	}
	return Descriptor{
		id:        id,
		name:      name,
		semantics: s.Semantics,
		interval:  s.Interval,
		active:    s.Active,
		provider:  s.Provider,
		output:    s.Output,
		format:    copyMap(s.Format),
		filter:    copyFilter(s.Filter),
	}, nil
}

func (d Descriptor) ID() string              { return d.id }
func (d Descriptor) Name() string            { return d.name }
func (d Descriptor) Semantics() string       { return d.semantics }
func (d Descriptor) Interval() time.Duration { return d.interval }
func (d Descriptor) Active() bool            { return d.active }
func (d Descriptor) Provider() Endpoint      { return d.provider }
func (d Descriptor) Output() Endpoint        { return d.output }
func (d Descriptor) Filter() Filter          { return copyFilter(d.filter) }

// Format returns the provider-specific option stored under key.
func (d Descriptor) Format(key string) string { return d.format[key] }

// FormatMap returns a copy of all format options.
func (d Descriptor) FormatMap() map[string]string { return copyMap(d.format) }

// IsZero reports whether d was never built by New.
func (d Descriptor) IsZero() bool { return d.id == "" }

func (d Descriptor) String() string {
	keys := make([]string, 0, len(d.format))
	for k := range d.format {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s[%s every %s, provider=%s, output=%s, format=%v]",
		d.id, d.semantics, d.interval, d.provider.Kind, d.output.Kind, keys)
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFilter(f Filter) Filter {
	var out Filter
	if f.DiscardBefore != nil {
		t := *f.DiscardBefore
		out.DiscardBefore = &t
	}
	if f.DiscardAfter != nil {
		t := *f.DiscardAfter
		out.DiscardAfter = &t
	}
	return out
}
