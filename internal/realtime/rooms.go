package realtime

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindServer  Kind = "server"
	KindChannel Kind = "channel"
	KindUser    Kind = "user"
)

// Key addresses a room as "<kind>:<id>".
type Key string

func ServerRoom(id string) Key  { return Key(string(KindServer) + ":" + id) }
func ChannelRoom(id string) Key { return Key(string(KindChannel) + ":" + id) }
func UserRoom(id string) Key    { return Key(string(KindUser) + ":" + id) }

// ParseKey splits on the first colon only, ids may contain colons.
func ParseKey(s string) (Kind, string, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("invalid room key %q", s)
	}

	switch Kind(kind) {
	case KindServer, KindChannel, KindUser:
		return Kind(kind), id, nil
	}
	return "", "", fmt.Errorf("unknown room kind %q", kind)
}

func (k Key) Kind() Kind {
	kind, _, _ := ParseKey(string(k))
	return kind
}

func (k Key) String() string { return string(k) }
