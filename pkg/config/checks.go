package config

import (
	"fmt"
)

// checker collects rule violations that span several fields. It reports
// every violation rather than stopping at the first one.
type checker struct {
	errors []error
	name   string
}

func newChecker(name string) *checker {
	return &checker{name: name}
}

// When applies checks only if the condition holds
func (c *checker) When(condition bool, checks func(*checker)) *checker {
	if condition {
		checks(c)
	}
	return c
}

// Fail records a violation on field
func (c *checker) Fail(field, format string, args ...any) *checker {
	c.errors = append(c.errors, fmt.Errorf("%s.%s: %s", c.name, field, fmt.Sprintf(format, args...)))
	return c
}

// Custom records the error fn returns, if any
func (c *checker) Custom(field string, fn func() error) *checker {
	if err := fn(); err != nil {
		c.errors = append(c.errors, fmt.Errorf("%s.%s: %w", c.name, field, err))
	}
	return c
}

// Err returns nil, the single violation, or a summary wrapping the first
func (c *checker) Err() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return fmt.Errorf("%s validation failed with %d errors: %w", c.name, len(c.errors), c.errors[0])
	}
}
