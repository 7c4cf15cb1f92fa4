// Package config holds the bridge file configuration and the benchmark
// command-line settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// section is one level of a decoded config file. Keys are matched without
// regard to case. The first conversion error sticks and turns later reads
// into no-ops, so callers check err once per section.
type section struct {
	values map[string]any
	err    error
}

func newSection(raw any) (*section, error) {
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, fmt.Errorf("expected map, got %T", raw)
	}
	values := make(map[string]any, len(m))
	for k, v := range m {
		values[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &section{values: values}, nil
}

// lookup returns the value of the first key present.
func (s *section) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := s.values[strings.ToLower(k)]; ok {
			return v, true
		}
	}
	return nil, false
}

// read converts the value under keys into dst. dst is left alone when no
// key is present.
func read[T any](s *section, dst *T, conv func(any) (T, error), keys ...string) {
	if s.err != nil {
		return
	}
	raw, ok := s.lookup(keys...)
	if !ok {
		return
	}
	v, err := conv(raw)
	if err != nil {
		s.err = fmt.Errorf("%s: %w", keys[0], err)
		return
	}
	*dst = v
}

// nested fills the sub-section under key, if present.
func (s *section) nested(key string, fill func(*section)) {
	if s.err != nil {
		return
	}
	raw, ok := s.lookup(key)
	if !ok {
		return
	}
	child, err := newSection(raw)
	if err == nil {
		fill(child)
		err = child.err
	}
	if err != nil {
		s.err = fmt.Errorf("%s: %w", key, err)
	}
}

// list calls fill for every entry of the list under key.
func (s *section) list(key string, fill func(*section)) {
	if s.err != nil {
		return
	}
	raw, ok := s.lookup(key)
	if !ok {
		return
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		s.err = fmt.Errorf("%s: expected list, got %T", key, raw)
		return
	}
	for i, item := range items {
		child, err := newSection(item)
		if err == nil {
			fill(child)
			err = child.err
		}
		if err != nil {
			s.err = fmt.Errorf("%s[%d]: %w", key, i, err)
			return
		}
	}
}

func trimmed(v any) (string, error) {
	str, err := cast.ToStringE(v)
	return strings.TrimSpace(str), err
}

func lowered(v any) (string, error) {
	str, err := trimmed(v)
	return strings.ToLower(str), err
}

// toDuration accepts Go duration strings. Bare numbers are seconds.
func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		d = strings.TrimSpace(d)
		if d == "" {
			return 0, nil
		}
		return time.ParseDuration(d)
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func toMetadata(v any) (map[string]string, error) {
	if v == nil {
		return nil, nil
	}
	md, err := cast.ToStringMapStringE(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported metadata type %T", v)
	}
	for k := range md {
		if strings.TrimSpace(k) == "" {
			return nil, errors.New("metadata key cannot be empty")
		}
	}
	return md, nil
}
