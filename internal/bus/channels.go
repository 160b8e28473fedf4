package bus

import "strings"

// Channel names. These are wire contract shared with every peer.
const (
	ChannelGetValidated = "gun/get/validated"
	ChannelPutValidated = "gun/put/validated"
	ChannelGetMissing   = "gun/get/missing"
	ChannelPutDiff      = "gun/put/diff"

	// Unvalidated inbound traffic. Upload writes go to ChannelPut.
	ChannelPut = "gun/put"
	ChannelGet = "gun/get"

	replyPrefix = "gun/@"
	nodePrefix  = "gun/nodes/"
)

// ReplyChannel is where the reply to message id is published.
func ReplyChannel(id string) string {
	return replyPrefix + id
}

// NodeChannel carries the per-soul notifications for soul.
func NodeChannel(soul string) string {
	return nodePrefix + soul
}

// Family groups a channel name for metrics: reply and node channels
// collapse to their prefix.
func Family(channel string) string {
	switch {
	case strings.HasPrefix(channel, replyPrefix):
		return replyPrefix
	case strings.HasPrefix(channel, nodePrefix):
		return nodePrefix
	default:
		return channel
	}
}
