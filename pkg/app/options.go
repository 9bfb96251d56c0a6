package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions abstracts the options of a command: flags grouped by
// section, completion of derived defaults and validation.
type NamedFlagSetOptions interface {
	Flags() cliflag.NamedFlagSets

	// Complete fills in defaults derived from other options.
	Complete() error

	// Validate checks the options and aggregates every problem found.
	Validate() error
}
