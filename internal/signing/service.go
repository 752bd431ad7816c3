// Package signing signs canonical invoice documents with the business's
// active certificate.
package signing

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/certificates"
)

// ErrNoActiveCertificate means the business has no usable active certificate.
var ErrNoActiveCertificate = errors.New("signing: no active certificate")

// KeySource resolves certificates and their private keys.
type KeySource interface {
	GetActive(ctx context.Context, businessID uuid.UUID) (certificates.Certificate, error)
	PrivateKey(ctx context.Context, cert certificates.Certificate, actor string) (*rsa.PrivateKey, error)
}

// Signed is a signed document ready for submission.
type Signed struct {
	Payload       string
	Signature     string
	CertificateID uuid.UUID
	Format        string
}

// Service produces RSA-SHA256 signatures.
type Service struct {
	keys   KeySource
	format Format
	actor  string
}

// NewService constructs a signing service. A nil format selects TrailerFormat.
func NewService(keys KeySource, format Format, actor string) *Service {
	if format == nil {
		format = TrailerFormat{}
	}
	return &Service{keys: keys, format: format, actor: actor}
}

// Sign returns the base64 RSA-SHA256 PKCS#1 v1.5 signature of payload made
// with cert's private key. Errors matching certificates.ErrDecryption mean the
// stored key is corrupt.
func (s *Service) Sign(ctx context.Context, cert certificates.Certificate, payload string) (string, error) {
	key, err := s.keys.PrivateKey(ctx, cert, s.actor)
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	digest := sha256.Sum256([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignDocument signs xml with the business's active certificate and attaches
// the signature using the configured format.
func (s *Service) SignDocument(ctx context.Context, businessID uuid.UUID, xml string) (Signed, error) {
	cert, err := s.keys.GetActive(ctx, businessID)
	if errors.Is(err, certificates.ErrNoActive) {
		return Signed{}, ErrNoActiveCertificate
	}
	if err != nil {
		return Signed{}, fmt.Errorf("signing: load certificate: %w", err)
	}
	sig, err := s.Sign(ctx, cert, xml)
	if err != nil {
		return Signed{}, err
	}
	return Signed{
		Payload:       s.format.Attach(xml, sig),
		Signature:     sig,
		CertificateID: cert.ID,
		Format:        s.format.Name(),
	}, nil
}

// Verify checks a base64 signature produced by Sign.
func Verify(pub *rsa.PublicKey, payload, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("signing: decode signature: %w", err)
	}
	digest := sha256.Sum256([]byte(payload))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
}
