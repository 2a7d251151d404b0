// Package condition implements the small boolean expression language used for task
// Definition-of-Done checks, task `when` guards and recovery triggers.
//
// A Condition is a closed sum type: Kind selects which of the remaining fields are
// meaningful. New kinds are added by extending Evaluate.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind string

const (
	KindAlways          Kind = "always"
	KindNever           Kind = "never"
	KindAnd             Kind = "and"
	KindOr              Kind = "or"
	KindNot             Kind = "not"
	KindFileExists      Kind = "file_exists"
	KindCommandSucceeds Kind = "command_succeeds"
	KindOutputMatches   Kind = "output_matches"
)

type Condition struct {
	Kind Kind

	// Children holds the operands of And/Or and the single operand of Not.
	Children []*Condition

	// Path is the file checked by FileExists.
	Path string

	// Command is run by CommandSucceeds and OutputMatches.
	Command string

	// Pattern is the regular expression OutputMatches applies to stdout.
	Pattern string
}

func Always() *Condition { return &Condition{Kind: KindAlways} }

func Never() *Condition { return &Condition{Kind: KindNever} }

func And(children ...*Condition) *Condition {
	return &Condition{Kind: KindAnd, Children: children}
}

func Or(children ...*Condition) *Condition {
	return &Condition{Kind: KindOr, Children: children}
}

func Not(child *Condition) *Condition {
	return &Condition{Kind: KindNot, Children: []*Condition{child}}
}

func FileExists(path string) *Condition {
	return &Condition{Kind: KindFileExists, Path: path}
}

func CommandSucceeds(cmd string) *Condition {
	return &Condition{Kind: KindCommandSucceeds, Command: cmd}
}

func OutputMatches(cmd, pattern string) *Condition {
	return &Condition{Kind: KindOutputMatches, Command: cmd, Pattern: pattern}
}

// String renders the condition in a compact prefix notation, used in logs and errors.
func (c *Condition) String() string {
	if c == nil {
		return "<nil>"
	}

	switch c.Kind {
	case KindAlways, KindNever:
		return string(c.Kind)

	case KindAnd, KindOr:
		parts := make([]string, 0, len(c.Children))
		for _, child := range c.Children {
			parts = append(parts, child.String())
		}
		return fmt.Sprintf("%s(%s)", c.Kind, strings.Join(parts, ", "))

	case KindNot:
		if len(c.Children) != 1 {
			return "not(?)"
		}
		return fmt.Sprintf("not(%s)", c.Children[0])

	case KindFileExists:
		return fmt.Sprintf("file_exists(%s)", strconv.Quote(c.Path))

	case KindCommandSucceeds:
		return fmt.Sprintf("command_succeeds(%s)", strconv.Quote(c.Command))

	case KindOutputMatches:
		return fmt.Sprintf("output_matches(%s, %s)", strconv.Quote(c.Command), strconv.Quote(c.Pattern))
	}

	return fmt.Sprintf("unknown(%s)", c.Kind)
}

// Validate checks the structure of the condition tree without running anything.
func (c *Condition) Validate() error {
	if c == nil {
		return malformed(c, "nil condition")
	}

	switch c.Kind {
	case KindAlways, KindNever:
		return nil

	case KindAnd, KindOr:
		for _, child := range c.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil

	case KindNot:
		if len(c.Children) != 1 {
			return malformed(c, "not requires exactly one operand, got %d", len(c.Children))
		}
		return c.Children[0].Validate()

	case KindFileExists:
		if strings.TrimSpace(c.Path) == "" {
			return malformed(c, "file_exists requires a path")
		}
		return nil

	case KindCommandSucceeds:
		if strings.TrimSpace(c.Command) == "" {
			return malformed(c, "command_succeeds requires a command")
		}
		return nil

	case KindOutputMatches:
		if strings.TrimSpace(c.Command) == "" {
			return malformed(c, "output_matches requires a command")
		}
		if _, err := compilePattern(c.Pattern); err != nil {
			return malformed(c, "invalid pattern: %v", err)
		}
		return nil
	}

	return malformed(c, "unknown condition kind %q", c.Kind)
}
