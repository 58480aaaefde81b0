package node

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func errNotJoined(topic string) error {
	return fmt.Errorf("not joined to topic: %s", topic)
}

func zapErr(err error) zap.Field {
	return zap.Error(err)
}

// newMessageID generates the UUID carried as RelayEnvelope.MessageID and as
// the dedup key for request/response protocols, replacing the teacher's
// generateMessageID(content, from, time) hash (pkg/libp2p/utils.go) with a
// random UUID per §3's `message_id (UUID)` field.
func newMessageID() string {
	return uuid.NewString()
}
