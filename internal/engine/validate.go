package engine

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// DecodePayload unmarshals an operation's data into the entity's payload
// struct and checks its validate tags. Every failure is a structural error,
// which the push orchestrator downgrades to a REJECTED conflict.
func DecodePayload(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: data is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payloadValidator.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
