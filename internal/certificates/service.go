package certificates

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	rsaBits       = 2048
	lookupTimeout = 10 * time.Second
)

// Service implements the key and certificate store.
type Service struct {
	repo      Repository
	sealer    *Sealer
	sealerErr error
	validate  *validator.Validate
	lookups   singleflight.Group
	logger    *slog.Logger
	rand      io.Reader
}

// NewService constructs the store. A missing or short secret does not fail
// construction; operations that need the key return ErrConfiguration.
func NewService(repo Repository, secret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	sealer, err := NewSealer(secret)
	return &Service{
		repo:      repo,
		sealer:    sealer,
		sealerErr: err,
		validate:  validator.New(),
		logger:    logger,
		rand:      rand.Reader,
	}
}

// GenerateKeypair creates an RSA keypair and CSR for the business and stores
// the private key sealed under the master secret as a draft certificate.
func (s *Service) GenerateKeypair(ctx context.Context, req KeypairRequest) (KeypairResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return KeypairResult{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if s.sealerErr != nil {
		return KeypairResult{}, s.sealerErr
	}

	key, err := rsa.GenerateKey(s.rand, rsaBits)
	if err != nil {
		return KeypairResult{}, fmt.Errorf("certificates: generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return KeypairResult{}, fmt.Errorf("certificates: marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return KeypairResult{}, fmt.Errorf("certificates: marshal public key: %w", err)
	}
	csrDER, err := x509.CreateCertificateRequest(s.rand, &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:   req.CommonName,
			Organization: []string{req.Organization},
			Country:      []string{strings.ToUpper(req.Country)},
		},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}, key)
	if err != nil {
		return KeypairResult{}, fmt.Errorf("certificates: create csr: %w", err)
	}

	env, err := s.sealer.Seal(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	if err != nil {
		return KeypairResult{}, err
	}
	publicPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	cert := Certificate{
		ID:         uuid.New(),
		BusinessID: req.BusinessID,
		Type:       TypeCSID,
		PublicKey:  publicPEM,
		PrivateKey: env,
		Status:     StatusDraft,
	}
	if err := s.repo.Insert(ctx, cert); err != nil {
		return KeypairResult{}, err
	}
	s.logger.Info("certificate keypair generated",
		slog.String("business_id", req.BusinessID.String()),
		slog.String("certificate_id", cert.ID.String()))
	return KeypairResult{
		CertificateID: cert.ID,
		PublicKey:     publicPEM,
		CSR:           string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})),
	}, nil
}

// Activate attaches the authority-issued certificate to a draft keypair and
// makes it the single active certificate of the business. The certificate's
// public key must match the stored one.
func (s *Service) Activate(ctx context.Context, businessID uuid.UUID, actor string, req ActivateRequest) (Certificate, error) {
	if err := s.validate.Struct(req); err != nil {
		return Certificate{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	cert, err := s.repo.Get(ctx, businessID, req.CertificateID)
	if err != nil {
		return Certificate{}, err
	}
	if cert.Status != StatusDraft {
		return Certificate{}, ErrNotDraft
	}
	issued, err := parseCertificatePEM(req.CertificatePEM)
	if err != nil {
		return Certificate{}, err
	}
	stored, err := parsePublicKeyPEM(cert.PublicKey)
	if err != nil {
		return Certificate{}, err
	}
	issuedKey, ok := issued.PublicKey.(*rsa.PublicKey)
	if !ok || !stored.Equal(issuedKey) {
		return Certificate{}, ErrKeyMismatch
	}

	pemText := req.CertificatePEM
	cert.CertificatePEM = &pemText
	cert.CSID = req.CSID
	cert.PCSID = req.PCSID
	cert.ExpiresAt = req.ExpiresAt
	if cert.ExpiresAt == nil {
		notAfter := issued.NotAfter.UTC()
		cert.ExpiresAt = &notAfter
	}
	if err := s.repo.Activate(ctx, cert, actor); err != nil {
		return Certificate{}, err
	}
	s.lookups.Forget(businessID.String())
	cert.Status = StatusActive
	s.logger.Info("certificate activated",
		slog.String("business_id", businessID.String()),
		slog.String("certificate_id", cert.ID.String()))
	return cert, nil
}

// GetActive returns the certificate to sign with. Concurrent lookups for the
// same business share one query, which outlives any single caller's
// cancellation but is bounded by lookupTimeout.
func (s *Service) GetActive(ctx context.Context, businessID uuid.UUID) (Certificate, error) {
	ch := s.lookups.DoChan(businessID.String(), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return s.repo.LatestActive(qctx, businessID)
	})
	select {
	case <-ctx.Done():
		return Certificate{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Certificate{}, res.Err
		}
		return res.Val.(Certificate), nil
	}
}

// List returns the business's certificates without key material.
func (s *Service) List(ctx context.Context, businessID uuid.UUID) ([]Certificate, error) {
	certs, err := s.repo.List(ctx, businessID)
	if err != nil {
		return nil, err
	}
	for i := range certs {
		certs[i].PrivateKey = Envelope{}
	}
	return certs, nil
}

// PrivateKey opens the sealed private key of cert. A failed integrity check
// flags the certificate for reissue before returning ErrDecryption.
func (s *Service) PrivateKey(ctx context.Context, cert Certificate, actor string) (*rsa.PrivateKey, error) {
	if s.sealerErr != nil {
		return nil, s.sealerErr
	}
	plain, err := s.sealer.Open(cert.PrivateKey)
	if err == nil {
		var key *rsa.PrivateKey
		key, err = parsePrivateKeyPEM(plain)
		if err == nil {
			return key, nil
		}
	}
	if !errors.Is(err, ErrDecryption) {
		return nil, err
	}
	s.logger.Error("certificate private key unreadable, flagging for reissue",
		slog.String("business_id", cert.BusinessID.String()),
		slog.String("certificate_id", cert.ID.String()))
	if flagErr := s.repo.FlagReissue(ctx, cert, actor); flagErr != nil {
		s.logger.Error("flag certificate reissue", slog.Any("error", flagErr))
	}
	s.lookups.Forget(cert.BusinessID.String())
	return nil, ErrDecryption
}

func parseCertificatePEM(text string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(text)))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrInvalidPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, ErrInvalidPEM
	}
	return cert, nil
}

func parsePublicKeyPEM(text string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(text))
	if block == nil {
		return nil, fmt.Errorf("certificates: stored public key is not pem")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certificates: parse stored public key: %w", err)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificates: stored public key is %T", pub)
	}
	return key, nil
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(bytes.TrimSpace(data))
	if block == nil {
		return nil, ErrDecryption
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, ErrDecryption
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrDecryption
	}
	return key, nil
}
