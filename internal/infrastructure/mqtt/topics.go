package mqtt

import (
	"strings"

	"github.com/nerrad567/hubrelay/internal/entity"
)

// DefaultTopicPrefix roots topics when none is configured.
const DefaultTopicPrefix = "hubrelay"

// Topics builds mirror topics under a prefix:
//
//	<prefix>/status                    retained online/offline
//	<prefix>/state/<domain>/<name>     retained entity snapshot
//	<prefix>/event/<kind>[/<type>]     one message per routed record
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix. Surrounding slashes are
// trimmed; an empty prefix uses DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root segment.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Status returns the bridge presence topic.
func (t Topics) Status() string {
	return t.Prefix() + "/status"
}

// State returns the retained snapshot topic of id.
func (t Topics) State(id entity.ID) string {
	return t.Prefix() + "/state/" + id.Domain() + "/" + id.Name()
}

// Event returns the topic for a routed record. sub narrows it, e.g. the
// fired event type; empty sub yields <prefix>/event/<kind>.
func (t Topics) Event(kind, sub string) string {
	topic := t.Prefix() + "/event/" + kind
	if sub = sanitizeLevel(sub); sub != "" {
		topic += "/" + sub
	}
	return topic
}

// AllStates returns the wildcard matching every state topic.
func (t Topics) AllStates() string {
	return t.Prefix() + "/state/#"
}

// sanitizeLevel strips characters that would split or wildcard a level.
func sanitizeLevel(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
