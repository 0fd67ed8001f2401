package hipaa

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
)

// NewDraftSealer builds the sealer for persisted drafts from hex-encoded
// keys. The current key gets version len(previous)+1 and previous[i] gets
// version i+1, so appending the retired key on rotation keeps old drafts
// readable.
//
// An empty current key disables encryption: the result is nil and a warning
// is logged.
func NewDraftSealer(current string, previous []string, logger zerolog.Logger) (*PayloadSealer, error) {
	if current == "" {
		logger.Warn().Msg("draft encryption disabled: DRAFT_ENCRYPTION_KEY is not set")
		return nil, nil
	}
	if len(previous) > 254 {
		return nil, fmt.Errorf("too many previous draft keys: %d", len(previous))
	}

	key, err := decodeKey("DRAFT_ENCRYPTION_KEY", current)
	if err != nil {
		return nil, err
	}
	sealer, err := NewPayloadSealer(key, byte(len(previous)+1))
	if err != nil {
		return nil, err
	}
	for i, p := range previous {
		k, err := decodeKey(fmt.Sprintf("previous draft key %d", i+1), p)
		if err != nil {
			return nil, err
		}
		if err := sealer.AddPreviousKey(k, byte(i+1)); err != nil {
			return nil, err
		}
	}

	logger.Info().Int("key_version", int(sealer.CurrentVersion())).Msg("draft encryption enabled")
	return sealer, nil
}

func decodeKey(name, value string) ([]byte, error) {
	b, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", name, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%s must be 32 bytes (64 hex chars), got %d bytes", name, len(b))
	}
	return b, nil
}
