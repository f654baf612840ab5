package matching

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/profile"
)

// Rule kinds understood by Compile.
const (
	KindConstant = "constant"
	KindProperty = "property"
	KindRange    = "range"
)

// FromBirthYear makes a range rule derive an age from a birth year property.
const FromBirthYear = "birth_year"

// DefaultOverallBand is the band every user falls into for the overall category.
const DefaultOverallBand = "everyone"

// Rule maps a user's properties to a band of one category.
type Rule interface {
	Match(props profile.Properties) (string, bool)
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(props profile.Properties) (string, bool)

// Match implements Rule.
func (f RuleFunc) Match(props profile.Properties) (string, bool) { return f(props) }

// Constant matches every user to the same band.
type Constant struct {
	Band string
}

// Match implements Rule.
func (c Constant) Match(profile.Properties) (string, bool) { return c.Band, c.Band != "" }

// Property reads one property. A string value names the band directly or via
// the Values alias table; an array value tries each element in order.
type Property struct {
	Key    string
	Values map[string]string
}

// Match implements Rule.
func (p Property) Match(props profile.Properties) (string, bool) {
	v, ok := props.Get(p.Key)
	if !ok {
		return "", false
	}
	if items, isArray := v.AsArray(); isArray {
		for _, item := range items {
			if band, ok := p.band(item); ok {
				return band, true
			}
		}
		return "", false
	}
	return p.band(v)
}

func (p Property) band(v profile.Value) (string, bool) {
	var s string
	if str, ok := v.AsString(); ok {
		s = str
	} else if b, ok := v.AsBool(); ok {
		s = strconv.FormatBool(b)
	} else if n, ok := v.AsNumber(); ok {
		s = strconv.FormatFloat(n, 'f', -1, 64)
	} else {
		return "", false
	}
	if s == "" {
		return "", false
	}
	if p.Values == nil {
		return s, true
	}
	band, ok := p.Values[s]
	return band, ok && band != ""
}

// Interval is one [Min, Max) bucket of a Range rule. A nil bound is open.
type Interval struct {
	Band string
	Min  *float64
	Max  *float64
}

func (i Interval) contains(x float64) bool {
	if i.Min != nil && x < *i.Min {
		return false
	}
	if i.Max != nil && x >= *i.Max {
		return false
	}
	return true
}

// Range buckets a numeric property (or numeric string) into intervals.
// When FromBirthYear is set the property holds a year and the bucketed value
// is the age at Now.
type Range struct {
	Key           string
	Intervals     []Interval
	FromBirthYear bool
	Now           func() time.Time
}

// Match implements Rule. The first interval containing the value wins.
func (r Range) Match(props profile.Properties) (string, bool) {
	v, ok := props.Get(r.Key)
	if !ok {
		return "", false
	}
	x, ok := numeric(v)
	if !ok {
		return "", false
	}
	if r.FromBirthYear {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		x = float64(now().Year()) - x
	}
	for _, in := range r.Intervals {
		if in.contains(x) {
			return in.Band, true
		}
	}
	return "", false
}

func numeric(v profile.Value) (float64, bool) {
	if n, ok := v.AsNumber(); ok {
		return n, true
	}
	s, ok := v.AsString()
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Compile turns a configured rule into a Rule. Unknown kinds and incomplete
// rules wrap population.ErrConfig.
func Compile(category string, spec population.RuleSpec, now func() time.Time) (Rule, error) {
	switch spec.Kind {
	case KindConstant:
		if spec.Band == "" {
			return nil, fmt.Errorf("%w: constant rule for %q needs a band", population.ErrConfig, category)
		}
		return Constant{Band: spec.Band}, nil
	case KindProperty, "":
		key := spec.Property
		if key == "" {
			key = category
		}
		return Property{Key: key, Values: spec.Values}, nil
	case KindRange:
		key := spec.Property
		if key == "" {
			key = category
		}
		if len(spec.Ranges) == 0 {
			return nil, fmt.Errorf("%w: range rule for %q has no bands", population.ErrConfig, category)
		}
		if spec.From != "" && spec.From != FromBirthYear {
			return nil, fmt.Errorf("%w: range rule for %q: unknown source %q", population.ErrConfig, category, spec.From)
		}
		intervals := make([]Interval, 0, len(spec.Ranges))
		for _, rs := range spec.Ranges {
			if rs.Band == "" {
				return nil, fmt.Errorf("%w: range rule for %q has an unnamed band", population.ErrConfig, category)
			}
			if rs.Min != nil && rs.Max != nil && *rs.Min >= *rs.Max {
				return nil, fmt.Errorf("%w: range rule for %q: band %q is empty", population.ErrConfig, category, rs.Band)
			}
			intervals = append(intervals, Interval{Band: rs.Band, Min: rs.Min, Max: rs.Max})
		}
		return Range{Key: key, Intervals: intervals, FromBirthYear: spec.From == FromBirthYear, Now: now}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rule kind %q for %q", population.ErrConfig, spec.Kind, category)
	}
}
