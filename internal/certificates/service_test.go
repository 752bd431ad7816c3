package certificates_test

import (
	"context"
	"encoding/base64"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawtara/fawtara/internal/certificates"
	"github.com/fawtara/fawtara/internal/certificates/certificatestest"
)

const testSecret = certificatestest.Secret

func newMemoryRepo() *certificatestest.Repository { return certificatestest.NewRepository() }

func issueFromCSR(t *testing.T, csrPEM string) string {
	t.Helper()
	out, err := certificatestest.IssueFromCSR(csrPEM)
	require.NoError(t, err)
	return out
}

func newKeypair(t *testing.T, svc *certificates.Service, businessID uuid.UUID) certificates.KeypairResult {
	t.Helper()
	res, err := svc.GenerateKeypair(context.Background(), certificates.KeypairRequest{
		BusinessID:   businessID,
		CommonName:   "EGS1",
		Organization: "Acme",
		Country:      "sa",
	})
	require.NoError(t, err)
	return res
}

func TestGenerateKeypairStoresSealedDraft(t *testing.T) {
	repo := newMemoryRepo()
	svc := certificates.NewService(repo, testSecret, nil)
	businessID := uuid.New()

	res := newKeypair(t, svc, businessID)
	assert.True(t, strings.HasPrefix(res.PublicKey, "-----BEGIN PUBLIC KEY-----"))
	assert.Contains(t, res.CSR, "BEGIN CERTIFICATE REQUEST")

	stored := repo.Cert(res.CertificateID)
	assert.Equal(t, certificates.StatusDraft, stored.Status)
	assert.Equal(t, certificates.TypeCSID, stored.Type)
	assert.NotContains(t, stored.PrivateKey.Ciphertext, "PRIVATE KEY")

	raw, err := base64.StdEncoding.DecodeString(stored.PrivateKey.Ciphertext)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "PRIVATE KEY")

	key, err := svc.PrivateKey(context.Background(), stored, "test")
	require.NoError(t, err)
	assert.Equal(t, 2048, key.N.BitLen())
}

func TestGenerateKeypairRequiresSecret(t *testing.T) {
	svc := certificates.NewService(newMemoryRepo(), "too-short", nil)
	_, err := svc.GenerateKeypair(context.Background(), certificates.KeypairRequest{
		BusinessID: uuid.New(), CommonName: "EGS1", Organization: "Acme", Country: "SA",
	})
	assert.ErrorIs(t, err, certificates.ErrConfiguration)
}

func TestGenerateKeypairValidates(t *testing.T) {
	svc := certificates.NewService(newMemoryRepo(), testSecret, nil)
	_, err := svc.GenerateKeypair(context.Background(), certificates.KeypairRequest{BusinessID: uuid.New(), Country: "SAU"})
	assert.ErrorIs(t, err, certificates.ErrInvalidArgs)
}

func TestActivateRetiresPreviousAndVerifiesKey(t *testing.T) {
	repo := newMemoryRepo()
	svc := certificates.NewService(repo, testSecret, nil)
	ctx := context.Background()
	businessID := uuid.New()

	first := newKeypair(t, svc, businessID)
	_, err := svc.Activate(ctx, businessID, "user:1", certificates.ActivateRequest{
		CertificateID:  first.CertificateID,
		CertificatePEM: issueFromCSR(t, first.CSR),
	})
	require.NoError(t, err)

	active, err := svc.GetActive(ctx, businessID)
	require.NoError(t, err)
	assert.Equal(t, first.CertificateID, active.ID)
	require.NotNil(t, active.ExpiresAt)
	assert.Equal(t, 2030, active.ExpiresAt.Year())

	second := newKeypair(t, svc, businessID)
	_, err = svc.Activate(ctx, businessID, "user:1", certificates.ActivateRequest{
		CertificateID:  second.CertificateID,
		CertificatePEM: issueFromCSR(t, first.CSR),
	})
	assert.ErrorIs(t, err, certificates.ErrKeyMismatch)

	_, err = svc.Activate(ctx, businessID, "user:1", certificates.ActivateRequest{
		CertificateID:  second.CertificateID,
		CertificatePEM: issueFromCSR(t, second.CSR),
	})
	require.NoError(t, err)

	active, err = svc.GetActive(ctx, businessID)
	require.NoError(t, err)
	assert.Equal(t, second.CertificateID, active.ID)
	assert.Equal(t, certificates.StatusRetired, repo.Cert(first.CertificateID).Status)

	_, err = svc.Activate(ctx, businessID, "user:1", certificates.ActivateRequest{
		CertificateID:  first.CertificateID,
		CertificatePEM: issueFromCSR(t, first.CSR),
	})
	assert.ErrorIs(t, err, certificates.ErrNotDraft)
}

func TestActivateRejectsForeignAndInvalid(t *testing.T) {
	svc := certificates.NewService(newMemoryRepo(), testSecret, nil)
	ctx := context.Background()
	businessID := uuid.New()
	res := newKeypair(t, svc, businessID)

	_, err := svc.Activate(ctx, uuid.New(), "user:1", certificates.ActivateRequest{
		CertificateID: res.CertificateID, CertificatePEM: issueFromCSR(t, res.CSR),
	})
	assert.ErrorIs(t, err, certificates.ErrNotFound)

	_, err = svc.Activate(ctx, businessID, "user:1", certificates.ActivateRequest{
		CertificateID: res.CertificateID, CertificatePEM: "garbage",
	})
	assert.ErrorIs(t, err, certificates.ErrInvalidPEM)
}

func TestGetActiveWithoutCertificate(t *testing.T) {
	svc := certificates.NewService(newMemoryRepo(), testSecret, nil)
	_, err := svc.GetActive(context.Background(), uuid.New())
	assert.ErrorIs(t, err, certificates.ErrNoActive)
}

// gatedRepository holds LatestActive open until release is closed.
type gatedRepository struct {
	*certificatestest.Repository
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedRepository) LatestActive(ctx context.Context, businessID uuid.UUID) (certificates.Certificate, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return certificates.Certificate{}, err
	}
	return g.Repository.LatestActive(ctx, businessID)
}

func TestGetActiveSurvivesFirstCallerCancel(t *testing.T) {
	repo := &gatedRepository{
		Repository: newMemoryRepo(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := certificates.NewService(repo, testSecret, nil)
	businessID := uuid.New()
	res := newKeypair(t, svc, businessID)
	_, err := svc.Activate(context.Background(), businessID, "user:1", certificates.ActivateRequest{
		CertificateID: res.CertificateID, CertificatePEM: issueFromCSR(t, res.CSR),
	})
	require.NoError(t, err)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetActive(first, businessID)
		firstErr <- err
	}()
	<-repo.entered
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan error, 1)
	var got certificates.Certificate
	go func() {
		var err error
		got, err = svc.GetActive(context.Background(), businessID)
		second <- err
	}()
	close(repo.release)

	require.NoError(t, <-second)
	assert.Equal(t, res.CertificateID, got.ID)
}

func TestTamperedKeyFlagsReissue(t *testing.T) {
	repo := newMemoryRepo()
	svc := certificates.NewService(repo, testSecret, nil)
	ctx := context.Background()
	businessID := uuid.New()
	res := newKeypair(t, svc, businessID)
	_, err := svc.Activate(ctx, businessID, "user:1", certificates.ActivateRequest{
		CertificateID: res.CertificateID, CertificatePEM: issueFromCSR(t, res.CSR),
	})
	require.NoError(t, err)

	cert, err := svc.GetActive(ctx, businessID)
	require.NoError(t, err)
	tag, _ := base64.StdEncoding.DecodeString(cert.PrivateKey.Tag)
	tag[0] ^= 0xff
	cert.PrivateKey.Tag = base64.StdEncoding.EncodeToString(tag)

	_, err = svc.PrivateKey(ctx, cert, "system")
	assert.ErrorIs(t, err, certificates.ErrDecryption)
	assert.Equal(t, []uuid.UUID{cert.ID}, repo.Flagged())

	_, err = svc.GetActive(ctx, businessID)
	assert.ErrorIs(t, err, certificates.ErrNoActive)
}

func TestListHidesKeyMaterial(t *testing.T) {
	svc := certificates.NewService(newMemoryRepo(), testSecret, nil)
	businessID := uuid.New()
	newKeypair(t, svc, businessID)
	certs, err := svc.List(context.Background(), businessID)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Empty(t, certs[0].PrivateKey.Ciphertext)
}
