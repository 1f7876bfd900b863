// Package config fills env-tagged structs from the process environment.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Load parses the process environment into cfg, a pointer to a struct with
// env and envDefault tags.
func Load(cfg any) error {
	return parse(cfg, env.Options{})
}

// LoadFrom is Load reading variables from environ instead of the process
// environment. Variables missing from environ take their envDefault.
func LoadFrom(cfg any, environ map[string]string) error {
	return parse(cfg, env.Options{Environment: environ})
}

func parse(cfg any, opts env.Options) error {
	err := env.ParseWithOptions(cfg, opts)
	if err == nil {
		return nil
	}

	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return fmt.Errorf("parse config: %w", err)
	}
	msgs := make([]string, 0, len(agg.Errors))
	for _, e := range agg.Errors {
		msgs = append(msgs, e.Error())
	}
	sort.Strings(msgs)
	return fmt.Errorf("parse config: %s: %w", strings.Join(msgs, "; "), err)
}
