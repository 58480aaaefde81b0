package node

// Protocol IDs and pubsub topic/namespace names, generalizing the teacher's
// pkg/libp2p/protocols.go fixed "/gohush/..." set into the three topics and
// three request/response protocols §4.5/§4.6 name, plus an alias topic.
const (
	StoriesTopic  = "gostoryd/stories/1.0.0"
	ChannelsTopic = "gostoryd/channels/1.0.0"
	RelayTopic    = "gostoryd/relay/1.0.0"
	AliasTopic    = "gostoryd/alias/1.0.0"

	DirectMessageProtocol    = "/gostoryd/direct-message/1.0.0"
	NodeDescriptionProtocol  = "/gostoryd/node-description/1.0.0"
	StorySyncProtocol        = "/gostoryd/story-sync/1.0.0"

	GlobalNamespace = "gostoryd-global"
)
