// Package signer signs outgoing scoring requests with a secp256k1 key so the
// model sidecar can tell which deployment is calling it.
//
// Signing scheme:
//  1. payload_hash = hex(SHA256(payload))
//  2. input = payload_hash + decimal(timestamp_ns) + audience
//  3. signature = secp256k1 recoverable signature over Keccak256(input)
//  4. transported as base64(r || s || v)
package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds one private key. It is safe for concurrent use.
type Signer struct {
	key     *ecdsa.PrivateKey
	address string
	now     func() time.Time
}

// New creates a Signer from a hex-encoded private key (0x prefix optional).
func New(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return fromKey(key), nil
}

// Generate creates a Signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return fromKey(key), nil
}

func fromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		now:     time.Now,
	}
}

// Address returns the checksummed address derived from the public key.
func (s *Signer) Address() string { return s.address }

// Sign returns (base64 signature, timestamp in nanoseconds).
func (s *Signer) Sign(payload []byte, audience string) (string, int64, error) {
	ts := s.now().UnixNano()
	sig, err := crypto.Sign(digest(payload, ts, audience), s.key)
	if err != nil {
		return "", 0, fmt.Errorf("signer: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), ts, nil
}

// Recover returns the address that produced sig over (payload, ts, audience).
func Recover(payload []byte, ts int64, audience, sig string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("signer: decode signature: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return "", fmt.Errorf("signer: signature must be %d bytes, got %d", crypto.SignatureLength, len(raw))
	}
	pub, err := crypto.SigToPub(digest(payload, ts, audience), raw)
	if err != nil {
		return "", fmt.Errorf("signer: recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func digest(payload []byte, ts int64, audience string) []byte {
	h := sha256.Sum256(payload)
	input := hex.EncodeToString(h[:]) + strconv.FormatInt(ts, 10) + audience
	return crypto.Keccak256([]byte(input))
}
