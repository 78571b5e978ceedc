package request

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Option keys understood by the resolver.
const (
	KeyLogEnabled = "log_enabled"
	KeyLogLevel   = "log_level"
	KeyPageSize   = "page_size"
	KeyRetries    = "retries"
	KeySleep      = "sleep"
)

// Built-in fallbacks used when no layer provides a value.
const (
	DefaultLogEnabled = true
	DefaultPageSize   = 10
	DefaultRetries    = 3
	DefaultSleep      = 2 * time.Second
)

// Source looks up an option value for a scope.
type Source interface {
	Lookup(scopeKey, optionKey string) (any, bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(scopeKey, optionKey string) (any, bool)

// Lookup calls f(scopeKey, optionKey).
func (f SourceFunc) Lookup(scopeKey, optionKey string) (any, bool) {
	return f(scopeKey, optionKey)
}

// ModuleScope is the scope key of a module.
func ModuleScope(module string) string { return "module:" + module }

// GroupScope is the scope key of a configuration group.
func GroupScope(group string) string { return "group:" + group }

// DefaultBehavior returns the built-in behavior with the given ambient level.
func DefaultBehavior(ambient slog.Level) Behavior {
	return Behavior{
		Retries:    DefaultRetries,
		Sleep:      DefaultSleep,
		LogLevel:   ambient,
		LogEnabled: DefaultLogEnabled,
		PageSize:   DefaultPageSize,
	}
}

// Resolver computes behavior defaults from three layers, first present wins:
//
//  1. options passed explicitly for the call
//  2. options of the owning module
//  3. options of the service's configuration group
//
// Built-in fallbacks apply when all three are absent.
type Resolver struct {
	Source  Source
	Ambient slog.Level
}

// Resolve returns the behavior for a call. Malformed values are reported
// rather than silently replaced by a fallback.
func (r Resolver) Resolve(explicit map[string]any, module, group string) (Behavior, error) {
	b := DefaultBehavior(r.Ambient)

	lookup := func(key string) (any, bool) {
		if v, ok := explicit[key]; ok && v != nil {
			return v, true
		}
		if r.Source == nil {
			return nil, false
		}
		if module != "" {
			if v, ok := r.Source.Lookup(ModuleScope(module), key); ok && v != nil {
				return v, true
			}
		}
		if group != "" {
			if v, ok := r.Source.Lookup(GroupScope(group), key); ok && v != nil {
				return v, true
			}
		}
		return nil, false
	}

	var err error
	if v, ok := lookup(KeyLogEnabled); ok {
		if b.LogEnabled, err = toBool(v); err != nil {
			return b, fmt.Errorf("option %s: %w", KeyLogEnabled, err)
		}
	}
	if v, ok := lookup(KeyLogLevel); ok {
		if b.LogLevel, err = toLevel(v); err != nil {
			return b, fmt.Errorf("option %s: %w", KeyLogLevel, err)
		}
	}
	if v, ok := lookup(KeyPageSize); ok {
		if b.PageSize, err = toInt(v); err != nil {
			return b, fmt.Errorf("option %s: %w", KeyPageSize, err)
		}
	}
	if v, ok := lookup(KeyRetries); ok {
		if b.Retries, err = toInt(v); err != nil {
			return b, fmt.Errorf("option %s: %w", KeyRetries, err)
		}
	}
	if v, ok := lookup(KeySleep); ok {
		if b.Sleep, err = toDuration(v); err != nil {
			return b, fmt.Errorf("option %s: %w", KeySleep, err)
		}
	}

	return b, nil
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(t)
	default:
		return false, fmt.Errorf("unsupported type %T", v)
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// toDuration accepts a time.Duration, a Go duration string or a number of
// seconds.
func toDuration(v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case string:
		if secs, err := strconv.Atoi(t); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return time.ParseDuration(t)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// ParseLevel converts a level name (debug, info, warn, error) to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.TrimSpace(s)))
	return l, err
}

func toLevel(v any) (slog.Level, error) {
	switch t := v.(type) {
	case slog.Level:
		return t, nil
	case int:
		return slog.Level(t), nil
	case string:
		return ParseLevel(t)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
