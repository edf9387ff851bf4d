package orm

import (
	"fmt"
	"math"
	"net"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// rule reports whether value satisfies the rule configured with arg.
type rule func(value, arg any) bool

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

var validationRules = map[string]rule{
	"isAfter":    func(v, arg any) bool { return compareTime(v, arg, func(a, b time.Time) bool { return a.After(b) }) },
	"isBefore":   func(v, arg any) bool { return compareTime(v, arg, func(a, b time.Time) bool { return a.Before(b) }) },
	"isBoolean":  flag(func(v any) bool { _, ok := v.(bool); return ok }),
	"isCreditCard": flag(func(v any) bool {
		s, ok := v.(string)
		return ok && luhn(s)
	}),
	"isEmail": flag(func(v any) bool {
		s, ok := v.(string)
		if !ok || strings.ContainsAny(s, "<> ") {
			return false
		}
		addr, err := mail.ParseAddress(s)
		return err == nil && addr.Address == s
	}),
	"isHexColor": flag(func(v any) bool {
		s, ok := v.(string)
		return ok && hexColor.MatchString(s)
	}),
	"isIn":    func(v, arg any) bool { return contains(arg, v) },
	"isNotIn": func(v, arg any) bool { return !contains(arg, v) },
	"isInteger": flag(func(v any) bool {
		f, ok := core.ToFloat(v)
		return ok && f == math.Trunc(f)
	}),
	"isIP": flag(func(v any) bool {
		s, ok := v.(string)
		return ok && net.ParseIP(s) != nil
	}),
	"isNotEmptyString": flag(func(v any) bool {
		s, ok := v.(string)
		return ok && s != ""
	}),
	"isNumber": flag(func(v any) bool { _, ok := core.ToFloat(v); return ok }),
	"isString": flag(func(v any) bool { _, ok := v.(string); return ok }),
	"isURL": flag(func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		u, err := url.ParseRequestURI(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	}),
	"isUUID": flag(func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := uuid.Parse(s)
		return err == nil
	}),
	"max": func(v, arg any) bool {
		f, ok := core.ToFloat(v)
		limit, okArg := core.ToFloat(arg)
		return ok && okArg && f <= limit
	},
	"min": func(v, arg any) bool {
		f, ok := core.ToFloat(v)
		limit, okArg := core.ToFloat(arg)
		return ok && okArg && f >= limit
	},
	"maxLength": func(v, arg any) bool {
		s, ok := v.(string)
		limit, okArg := core.ToFloat(arg)
		return ok && okArg && float64(utf8.RuneCountInString(s)) <= limit
	},
	"minLength": func(v, arg any) bool {
		s, ok := v.(string)
		limit, okArg := core.ToFloat(arg)
		return ok && okArg && float64(utf8.RuneCountInString(s)) >= limit
	},
	"regex": func(v, arg any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		switch re := arg.(type) {
		case *regexp.Regexp:
			return re.MatchString(s)
		case string:
			compiled, err := regexp.Compile(re)
			return err == nil && compiled.MatchString(s)
		}
		return false
	},
	"custom": func(v, arg any) bool {
		switch fn := arg.(type) {
		case func(any) bool:
			return fn(v)
		case func(any) error:
			return fn(v) == nil
		}
		return false
	},
}

// flag adapts a boolean rule: configuring it with false disables it.
func flag(check func(any) bool) rule {
	return func(v, arg any) bool {
		if enabled, ok := arg.(bool); ok && !enabled {
			return true
		}
		return check(v)
	}
}

func contains(list, v any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if core.Equal(rv.Index(i).Interface(), v) {
			return true
		}
	}
	return false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			parsed, err = time.Parse("2006-01-02", t)
		}
		return parsed, err == nil
	}
	if ms, ok := core.ToFloat(v); ok {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

func compareTime(v, arg any, cmp func(a, b time.Time) bool) bool {
	value, ok := toTime(v)
	if !ok {
		return false
	}
	bound, ok := toTime(arg)
	return ok && cmp(value, bound)
}

func luhn(s string) bool {
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	if len(s) < 12 || len(s) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func checkType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := core.ToFloat(v)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

// validate checks values against the model attributes. When full is set the
// values describe a whole new record and required attributes are enforced.
func (c *Collection) validate(values core.Record, full bool) error {
	var problems []string

	for key := range values {
		if _, ok := c.attrs[key]; !ok {
			problems = append(problems, fmt.Sprintf("%q is not an attribute of %s", key, c.def.Identity))
		}
	}

	for _, name := range c.order {
		attr := c.attrs[name]
		value, present := values[name]
		if !present || value == nil {
			if full && attr.Required && !attr.AutoMigrations.AutoIncrement {
				problems = append(problems, fmt.Sprintf("%q is required", name))
			} else if present && !attr.AllowNull && attr.Required {
				problems = append(problems, fmt.Sprintf("%q cannot be null", name))
			}
			continue
		}
		if !checkType(attr.Type, value) {
			problems = append(problems, fmt.Sprintf("%q must be of type %s", name, attr.Type))
			continue
		}
		for _, ruleName := range sortedKeys(attr.Validations) {
			if !validationRules[ruleName](value, attr.Validations[ruleName]) {
				problems = append(problems, fmt.Sprintf("%q failed rule %s", name, ruleName))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s: %s", core.ErrValidation, c.def.Identity, strings.Join(problems, "; "))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
