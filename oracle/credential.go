// Package oracle signs and verifies proposer credentials. A credential is an
// EdDSA JWT whose claims bind one dispute id to the SHA-256 of one proposal,
// so a credential cannot be replayed for another dispute or another blob.
package oracle

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stakecourt/dispute"
)

var (
	ErrEmptyCredential = errors.New("oracle: empty credential")
	ErrUnknownKey      = errors.New("oracle: unknown signing key")
	ErrClaimsMismatch  = errors.New("oracle: credential does not cover this proposal")
	ErrInvalidKeySpec  = errors.New("oracle: invalid key specification")
)

const defaultTTL = time.Hour

// Claims are the signed fields of a proposer credential.
type Claims struct {
	DisputeID    int64  `json:"dispute_id"`
	ProposalHash string `json:"proposal_hash"`
	jwt.RegisteredClaims
}

// Signer issues credentials for one proposer key.
type Signer struct {
	kid string
	key ed25519.PrivateKey
	ttl time.Duration
	now func() time.Time
}

func NewSigner(kid string, key ed25519.PrivateKey) *Signer {
	return &Signer{kid: kid, key: key, ttl: defaultTTL, now: time.Now}
}

func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign returns a credential over (disputeID, sha256(proposal)).
func (s *Signer) Sign(disputeID int64, proposal []byte) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		DisputeID:    disputeID,
		ProposalHash: dispute.ProposalHash(proposal),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.kid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("oracle: sign: %w", err)
	}
	return signed, nil
}

// Verifier checks credentials against the registered proposer keys.
type Verifier struct {
	keys map[string]ed25519.PublicKey
	now  func() time.Time
}

func NewVerifier(keys map[string]ed25519.PublicKey) *Verifier {
	return &Verifier{keys: keys, now: time.Now}
}

func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify returns the key id of the proposer that signed credential. It fails
// when the credential is empty, signed by an unknown key, expired, or bound to
// another dispute or proposal.
func (v *Verifier) Verify(_ context.Context, credential string, disputeID int64, proposal []byte) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrEmptyCredential
	}

	var kid string
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		id, _ := t.Header["kid"].(string)
		key, ok := v.keys[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, id)
		}
		kid = id
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("oracle: verify: %w", err)
	}
	if claims.DisputeID != disputeID || claims.ProposalHash != dispute.ProposalHash(proposal) {
		return "", ErrClaimsMismatch
	}
	return kid, nil
}

// ParseKeys reads "kid:base64-public-key" pairs separated by commas.
func ParseKeys(list string) (map[string]ed25519.PublicKey, error) {
	keys := make(map[string]ed25519.PublicKey)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kid, encoded, ok := strings.Cut(part, ":")
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKeySpec, part)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrInvalidKeySpec, kid, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: key %s has %d bytes", ErrInvalidKeySpec, kid, len(raw))
		}
		keys[kid] = ed25519.PublicKey(raw)
	}
	return keys, nil
}
