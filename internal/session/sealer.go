package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrUnseal = errors.New("cannot open sealed principal")

// Sealer encrypts principals at rest so a copied database file does not leak
// API keys.
type Sealer struct {
	key [32]byte
}

func NewSealer(key [32]byte) *Sealer {
	return &Sealer{key: key}
}

// Seal returns nonce || secretbox(json(p)).
func (s *Sealer) Seal(p Principal) ([]byte, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode principal: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) (Principal, error) {
	var p Principal
	if len(sealed) < nonceSize+secretbox.Overhead {
		return p, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return p, ErrUnseal
	}
	if err := json.Unmarshal(plain, &p); err != nil {
		return p, fmt.Errorf("decode principal: %w", err)
	}
	return p, nil
}
