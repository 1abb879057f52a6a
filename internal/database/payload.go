package database

import (
	"encoding/json"
	"fmt"

	"smsrelay/internal/models"
)

// SealPayload serializes a forwarding plan and encrypts it when enabled.
// Plans carry endpoint credentials, so they never reach disk in the clear
// while encryption is on.
func SealPayload(enc *Encryptor, workID string, plan models.ForwardingPlan) (string, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	sealed, err := enc.Seal(raw, workID)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt payload: %w", err)
	}
	return sealed, nil
}

// OpenPayload reverses SealPayload.
func OpenPayload(enc *Encryptor, workID, sealed string) (models.ForwardingPlan, error) {
	var plan models.ForwardingPlan
	raw, err := enc.Open(sealed, workID)
	if err != nil {
		return plan, fmt.Errorf("failed to decrypt payload of %s: %w", workID, err)
	}
	if err := json.Unmarshal(raw, &plan); err != nil {
		return plan, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return plan, nil
}
