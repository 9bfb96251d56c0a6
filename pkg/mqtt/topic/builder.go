package topic

import (
	"fmt"
	"strings"
)

// Segments of the live-update topic tree. Backend and clients share these, so
// changing a value breaks compatibility with deployed devices.
const (
	// SuffixChanges carries row-level change events, Backend -> Client.
	// Structure: {root}/changes/{table}/{rowKey}
	SuffixChanges = "changes"

	// SuffixPresence carries connection presence, Client -> Backend. The broker
	// publishes the client's will message here when the link dies.
	// Structure: {root}/presence/{connectionID}
	SuffixPresence = "presence"
)

// Builder constructs topic strings under a common root.
type Builder struct {
	// root is the base namespace for all topics (e.g. "transit/v1").
	root string
}

// NewBuilder creates a Builder for root. Leading and trailing slashes are trimmed.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the namespace of the builder.
func (b *Builder) Root() string {
	return b.root
}

// Changes returns the topic of change events for one row of table.
func (b *Builder) Changes(table, rowKey string) string {
	return b.build(SuffixChanges, table, rowKey)
}

// ChangesWildcard returns the filter matching change events for every row of table.
// Result: {root}/changes/{table}/+
func (b *Builder) ChangesWildcard(table string) string {
	return b.build(SuffixChanges, table, Wildcard)
}

// Presence returns the presence topic of a client connection.
func (b *Builder) Presence(connectionID string) string {
	return b.build(SuffixPresence, connectionID)
}

// Table extracts the table segment from a change topic; ok is false for other topics.
func (b *Builder) Table(topic string) (table string, ok bool) {
	prefix := b.root + "/" + SuffixChanges + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	rest := strings.SplitN(strings.TrimPrefix(topic, prefix), "/", 2)
	if rest[0] == "" {
		return "", false
	}
	return rest[0], true
}

func (b *Builder) build(segments ...string) string {
	return fmt.Sprintf("%s/%s", b.root, strings.Join(segments, "/"))
}
