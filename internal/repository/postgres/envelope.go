package postgres

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/evgray/keyfort-server/internal/model"
)

// Key envelopes are CBOR-encoded into a single BYTEA column; the database
// never sees individual slots.

func encodeEnvelope(env model.KeyEnvelope) ([]byte, error) {
	raw, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key envelope: %w", err)
	}
	return raw, nil
}

func decodeEnvelope(raw []byte) (model.KeyEnvelope, error) {
	var env model.KeyEnvelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode key envelope: %w", err)
	}
	return env, nil
}
