package pusher

import "strings"

// ChannelType classifies a channel by its name prefix.
type ChannelType int

const (
	ChannelPublic ChannelType = iota
	ChannelPrivate
	ChannelPresence
	ChannelPrivateEncrypted
)

const (
	privatePrefix   = "private-"
	presencePrefix  = "presence-"
	encryptedPrefix = "private-encrypted-"
)

// ChannelTypeOf derives the channel kind from its name.
func ChannelTypeOf(name string) ChannelType {
	switch {
	case strings.HasPrefix(name, encryptedPrefix):
		return ChannelPrivateEncrypted
	case strings.HasPrefix(name, privatePrefix):
		return ChannelPrivate
	case strings.HasPrefix(name, presencePrefix):
		return ChannelPresence
	default:
		return ChannelPublic
	}
}

func (t ChannelType) String() string {
	switch t {
	case ChannelPrivate:
		return "private"
	case ChannelPresence:
		return "presence"
	case ChannelPrivateEncrypted:
		return "private-encrypted"
	default:
		return "public"
	}
}

// Channel is a subscribed pub/sub topic.
type Channel struct {
	Name string
	Type ChannelType
}

// NewChannel builds a Channel with its kind derived from the name.
func NewChannel(name string) Channel {
	return Channel{Name: name, Type: ChannelTypeOf(name)}
}
