package collector

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// 文件掩码中的日期占位符（顺序重要：%YYYY 必须先于 %YY 匹配）
var maskTokens = []struct {
	token  string
	group  string
	digits int
}{
	{"%YYYY", "year4", 4},
	{"%YY", "year2", 2},
	{"%MM", "month", 2},
	{"%DD", "day", 2},
	{"%hh", "hour", 2},
	{"%mm", "minute", 2},
	{"%ss", "second", 2},
}

// Mask matches file names such as "S11216377_%YYYY%MM%DD%hh%mm.tif" and
// extracts the data timestamp encoded in them. '*' and '?' are wildcards.
type Mask struct {
	raw      string
	dir      string
	base     string
	re       *regexp.Regexp
	hasTime  bool
	wildcard bool
	loc      *time.Location
}

// ParseMask compiles mask. loc is the zone of the encoded timestamps; nil means UTC.
func ParseMask(mask string, loc *time.Location) (*Mask, error) {
	if strings.TrimSpace(mask) == "" {
		return nil, fmt.Errorf("mask cannot be empty")
	}
	if loc == nil {
		loc = time.UTC
	}
	clean := path.Clean(strings.ReplaceAll(mask, "\\", "/"))
	if strings.HasPrefix(clean, "../") || clean == ".." {
		return nil, fmt.Errorf("mask %q escapes the provider directory", mask)
	}
	dir, base := path.Split(clean)
	// 子目录按字面拼接，不能含占位符或通配符
	if strings.ContainsAny(dir, "%*?") {
		return nil, fmt.Errorf("mask %q: date tokens and wildcards are only allowed in the file name", mask)
	}

	m := &Mask{raw: mask, dir: strings.TrimSuffix(dir, "/"), base: base, loc: loc}
	var b strings.Builder
	b.WriteString("^")
	used := map[string]bool{}
	for i := 0; i < len(base); {
		if base[i] == '*' || base[i] == '?' {
			m.wildcard = true
			if base[i] == '*' {
				b.WriteString(`[^/]*`)
			} else {
				b.WriteString(`[^/]`)
			}
			i++
			continue
		}
		matched := false
		for _, tk := range maskTokens {
			if strings.HasPrefix(base[i:], tk.token) {
				if used[tk.group] {
					fmt.Fprintf(&b, `(?:\d{%d})`, tk.digits)
				} else {
					fmt.Fprintf(&b, `(?P<%s>\d{%d})`, tk.group, tk.digits)
					used[tk.group] = true
				}
				m.hasTime = true
				i += len(tk.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteString(regexp.QuoteMeta(base[i : i+1]))
			i++
		}
	}
	b.WriteString("$")
	if m.hasTime && !used["year4"] && !used["year2"] {
		return nil, fmt.Errorf("mask %q has date tokens but no %%YYYY or %%YY year", mask)
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile mask %q: %w", mask, err)
	}
	m.re = re
	return m, nil
}

// Dir is the sub directory part of the mask ("" when none).
func (m *Mask) Dir() string { return m.dir }

// HasTime reports whether the mask encodes a timestamp.
func (m *Mask) HasTime() bool { return m.hasTime }

// HasWildcard reports whether the mask contains '*' or '?'.
func (m *Mask) HasWildcard() bool { return m.wildcard }

func (m *Mask) String() string { return m.raw }

// Match reports whether name matches and returns the encoded timestamp
// (zero when the mask has no date tokens).
func (m *Mask) Match(name string) (time.Time, bool) {
	sub := m.re.FindStringSubmatch(name)
	if sub == nil {
		return time.Time{}, false
	}
	if !m.hasTime {
		return time.Time{}, true
	}
	parts := map[string]int{"month": 1, "day": 1}
	for i, g := range m.re.SubexpNames() {
		if g == "" || sub[i] == "" {
			continue
		}
		v, err := strconv.Atoi(sub[i])
		if err != nil {
			return time.Time{}, false
		}
		parts[g] = v
	}
	year := parts["year4"]
	if _, ok := parts["year4"]; !ok {
		if y2, ok := parts["year2"]; ok {
			year = 2000 + y2
		}
	}
	t := time.Date(year, time.Month(parts["month"]), parts["day"],
		parts["hour"], parts["minute"], parts["second"], 0, m.loc)
	// reject values such as month 13 that time.Date silently normalizes
	if t.Month() != time.Month(parts["month"]) || t.Day() != parts["day"] {
		return time.Time{}, false
	}
	return t, true
}

// Expand renders the mask for reference time t. Wildcard masks cannot be expanded.
func (m *Mask) Expand(t time.Time) (string, error) {
	if m.wildcard {
		return "", fmt.Errorf("mask %q contains wildcards and cannot be expanded", m.raw)
	}
	t = t.In(m.loc)
	out := path.Join(m.dir, m.base)
	r := strings.NewReplacer(
		"%YYYY", fmt.Sprintf("%04d", t.Year()),
		"%YY", fmt.Sprintf("%02d", t.Year()%100),
		"%MM", fmt.Sprintf("%02d", int(t.Month())),
		"%DD", fmt.Sprintf("%02d", t.Day()),
		"%hh", fmt.Sprintf("%02d", t.Hour()),
		"%mm", fmt.Sprintf("%02d", t.Minute()),
		"%ss", fmt.Sprintf("%02d", t.Second()),
	)
	return r.Replace(out), nil
}
