package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Envelope is a signed API request. Signature covers the exact Payload
// bytes as an EIP-191 personal message.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature hexutil.Bytes   `json:"signature"`
}

// Seal marshals payload and signs it.
func Seal(s *Signer, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	sig, err := s.SignText(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Payload: data, Signature: sig}, nil
}

// Signer recovers the address that sealed the envelope.
func (e Envelope) Signer() (common.Address, error) {
	if len(e.Payload) == 0 {
		return common.Address{}, fmt.Errorf("empty payload")
	}
	return RecoverText(e.Payload, e.Signature)
}
