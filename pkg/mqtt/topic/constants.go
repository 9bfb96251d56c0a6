package topic

// MQTT wildcards.
const (
	// Wildcard matches exactly one level: "changes/vehicles/+" matches "changes/vehicles/bus-7".
	Wildcard = "+"

	// MultiWildcard matches the current level and everything below; it must be last.
	MultiWildcard = "#"
)

// AllChanges returns the filter matching every change event under the builder root.
func (b *Builder) AllChanges() string {
	return b.build(SuffixChanges, MultiWildcard)
}
