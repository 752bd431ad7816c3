// Package certificatestest provides an in-memory certificate repository and
// a throwaway issuing authority for tests.
package certificatestest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/certificates"
)

// Secret is a valid key-encryption secret for tests.
const Secret = "0123456789abcdef0123456789abcdef"

// Repository implements certificates.Repository in memory.
type Repository struct {
	mu      sync.Mutex
	certs   map[uuid.UUID]certificates.Certificate
	flagged []uuid.UUID
	seq     int
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{certs: make(map[uuid.UUID]certificates.Certificate)}
}

// Cert returns the stored row, key material included.
func (m *Repository) Cert(id uuid.UUID) certificates.Certificate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.certs[id]
}

// Flagged lists certificates marked for reissue, in order.
func (m *Repository) Flagged() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.flagged...)
}

func (m *Repository) Insert(_ context.Context, cert certificates.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cert.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	m.certs[cert.ID] = cert
	return nil
}

func (m *Repository) Get(_ context.Context, businessID, id uuid.UUID) (certificates.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.certs[id]
	if !ok || cert.BusinessID != businessID {
		return certificates.Certificate{}, certificates.ErrNotFound
	}
	return cert, nil
}

func (m *Repository) LatestActive(_ context.Context, businessID uuid.UUID) (certificates.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *certificates.Certificate
	for _, c := range m.certs {
		c := c
		if c.BusinessID != businessID || c.Status != certificates.StatusActive || c.ReissueRequired {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = &c
		}
	}
	if best == nil {
		return certificates.Certificate{}, certificates.ErrNoActive
	}
	return *best, nil
}

func (m *Repository) List(_ context.Context, businessID uuid.UUID) ([]certificates.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []certificates.Certificate
	for _, c := range m.certs {
		if c.BusinessID == businessID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Repository) Activate(_ context.Context, cert certificates.Certificate, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.certs {
		if c.BusinessID == cert.BusinessID && c.Status == certificates.StatusActive && id != cert.ID {
			c.Status = certificates.StatusRetired
			m.certs[id] = c
		}
	}
	cert.Status = certificates.StatusActive
	m.certs[cert.ID] = cert
	return nil
}

func (m *Repository) FlagReissue(_ context.Context, cert certificates.Certificate, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.certs[cert.ID]
	c.ReissueRequired = true
	m.certs[cert.ID] = c
	m.flagged = append(m.flagged, cert.ID)
	return nil
}

// IssueFromCSR plays the authority: it signs the CSR's key with a fresh CA
// and returns the leaf as PEM. The leaf expires on 2030-01-01.
func IssueFromCSR(csrPEM string) (string, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return "", errors.New("certificatestest: not a CSR")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return "", err
	}
	if err := csr.CheckSignature(); err != nil {
		return "", err
	}

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", err
	}
	ca := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Authority"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	leaf := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      csr.Subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, leaf, ca, csr.PublicKey, caKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})), nil
}
