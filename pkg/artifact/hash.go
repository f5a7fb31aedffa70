package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// SupportedAlgorithms is the list of hash algorithms this client can verify,
// in order of preference. When the server offers more than one, the first
// algorithm in this list that the server also offers wins.
var SupportedAlgorithms = []string{
	"sha256",
}

var hashFactories = map[string]func() hash.Hash{
	"sha256": sha256.New,
}

// Hashes maps an algorithm name (e.g. "sha256") to the expected lowercase
// hex digest of an artifact. A nil or empty map means the server did not
// request verification.
type Hashes map[string]string

// Trust describes how much an artifact can be trusted after negotiation.
type Trust int

const (
	// TrustVerified means a supported algorithm was found and the artifact
	// will be checked against the server digest.
	TrustVerified Trust = iota
	// TrustNoHash means the server did not provide any hash.
	TrustNoHash
	// TrustUnsupported means the server provided hashes, but none of them
	// uses an algorithm this client supports.
	TrustUnsupported
)

func (t Trust) String() string {
	switch t {
	case TrustVerified:
		return "verified"
	case TrustNoHash:
		return "no-hash"
	case TrustUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Negotiation is the result of matching server-offered hashes against
// SupportedAlgorithms.
type Negotiation struct {
	// Algorithm is the selected algorithm. Empty unless Trust is TrustVerified.
	Algorithm string
	// Digest is the expected digest. Empty unless Trust is TrustVerified.
	Digest string
	// Trust tells why Algorithm may be empty.
	Trust Trust
}

// Verifiable reports whether the artifact can be checked.
func (n Negotiation) Verifiable() bool {
	return n.Trust == TrustVerified
}

// Negotiate selects the strongest algorithm in hashes that this client
// supports. If n is not nil, an advisory is emitted describing the outcome;
// the two unverifiable cases produce different advisories.
func Negotiate(hashes Hashes, n Notifier) Negotiation {
	if len(hashes) == 0 {
		if n != nil {
			n.OnWarning("This file cannot be hash-verified!")
		}
		return Negotiation{Trust: TrustNoHash}
	}
	for _, algo := range SupportedAlgorithms {
		digest, ok := hashes[algo]
		if !ok {
			continue
		}
		if n != nil {
			n.OnNotice("Compatible hashing method found. Using " + algo)
		}
		return Negotiation{
			Algorithm: algo,
			Digest:    digest,
			Trust:     TrustVerified,
		}
	}
	if n != nil {
		n.OnWarning("This client cannot hash-verify this file!")
	}
	return Negotiation{Trust: TrustUnsupported}
}

// FileDigest returns the lowercase hex digest of the file at path computed
// with the given algorithm.
func FileDigest(path, algorithm string) (string, error) {
	factory, ok := hashFactories[algorithm]
	if !ok {
		return "", fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := factory()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
