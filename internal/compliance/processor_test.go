package compliance_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawtara/fawtara/internal/authority"
	"github.com/fawtara/fawtara/internal/certificates"
	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/compliance/compliancetest"
	"github.com/fawtara/fawtara/internal/events"
	jobmetrics "github.com/fawtara/fawtara/internal/jobs"
	"github.com/fawtara/fawtara/internal/signing"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

var uuidForeign = uuid.MustParse("00000000-0000-0000-0000-00000000f00d")

type stubInvoices struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]compliance.Document
	recorded  []compliance.Submission
	recordErr error
	panicOn   uuid.UUID
}

func newStubInvoices() *stubInvoices {
	return &stubInvoices{docs: make(map[uuid.UUID]compliance.Document)}
}

func (s *stubInvoices) add(businessID uuid.UUID, xml string) uuid.UUID {
	id := uuid.New()
	s.docs[id] = compliance.Document{InvoiceID: id, BusinessID: businessID, XML: xml}
	return id
}

func (s *stubInvoices) LoadDocument(_ context.Context, id uuid.UUID) (compliance.Document, error) {
	if id == s.panicOn {
		panic("corrupt row")
	}
	doc, ok := s.docs[id]
	if !ok || doc.XML == "" {
		return compliance.Document{}, compliance.ErrMissingPayload
	}
	return doc, nil
}

func (s *stubInvoices) RecordSubmission(_ context.Context, sub compliance.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.recorded = append(s.recorded, sub)
	return nil
}

type stubSigner struct {
	err error
}

func (s stubSigner) SignDocument(_ context.Context, _ uuid.UUID, xml string) (signing.Signed, error) {
	if s.err != nil {
		return signing.Signed{}, s.err
	}
	return signing.Signed{Payload: xml + "<!--sig-->", Signature: "sig", Format: "trailer"}, nil
}

type stubAuthority struct {
	noEndpoint bool
	validation authority.Validation
	resp       authority.Response
	submitErr  error
	submitted  []string
}

func okAuthority() *stubAuthority {
	return &stubAuthority{
		validation: authority.Validation{OK: true, Skipped: true},
		resp:       authority.Response{OK: true, Status: 200, Body: "ACK"},
	}
}

func (a *stubAuthority) Endpoint(string) (string, error) {
	if a.noEndpoint {
		return "", authority.ErrNoEndpoint
	}
	return "https://authority.test/report", nil
}

func (a *stubAuthority) Validate(context.Context, string) (authority.Validation, error) {
	return a.validation, nil
}

func (a *stubAuthority) Submit(_ context.Context, _ string, payload string) (authority.Response, error) {
	a.submitted = append(a.submitted, payload)
	if a.submitErr != nil {
		return authority.Response{}, a.submitErr
	}
	return a.resp, nil
}

type fixture struct {
	store     *compliancetest.MemoryStore
	invoices  *stubInvoices
	authority *stubAuthority
	events    *events.Recorder
	processor *compliance.Processor
	business  uuid.UUID
}

func newFixture(t *testing.T, signer compliance.Signer) *fixture {
	t.Helper()
	f := &fixture{
		store:     compliancetest.NewMemoryStore(epoch),
		invoices:  newStubInvoices(),
		authority: okAuthority(),
		events:    &events.Recorder{},
		business:  uuid.New(),
	}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	f.processor = compliance.NewProcessor(f.store, f.invoices, signer, f.authority, f.events, metrics,
		compliance.Config{BatchSize: 5, RetryBackoff: 5 * time.Minute, Lease: 10 * time.Minute}, nil)
	return f
}

func (f *fixture) enqueue(xml string) (uuid.UUID, uuid.UUID) {
	invoiceID := f.invoices.add(f.business, xml)
	return invoiceID, f.store.Enqueue(f.business, invoiceID, compliance.JobReport)
}

func TestProcessBatchSuccess(t *testing.T) {
	f := newFixture(t, stubSigner{})
	invoiceID, jobID := f.enqueue("<Invoice/>")

	res, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, compliance.Result{Processed: 1, Succeeded: 1, Limit: 5}, res)
	assert.True(t, res.Short())

	job, ok := f.store.Job(jobID)
	require.True(t, ok)
	assert.Equal(t, compliance.StatusDone, job.Status)
	require.NotNil(t, job.ResponseStatus)
	assert.Equal(t, 200, *job.ResponseStatus)
	assert.Equal(t, "ACK", *job.ResponseBody)

	require.Len(t, f.invoices.recorded, 1)
	sub := f.invoices.recorded[0]
	assert.Equal(t, invoiceID, sub.InvoiceID)
	assert.Equal(t, compliance.JobReport, sub.Type)
	assert.Equal(t, "ACK", sub.Response.Body)
	assert.Equal(t, []string{"<Invoice/><!--sig-->"}, f.authority.submitted)
	assert.Equal(t, []string{events.SubjectJobDone}, f.events.Subjects())
}

func TestProcessBatchAuthorityErrorIsRetried(t *testing.T) {
	f := newFixture(t, stubSigner{})
	f.authority.resp = authority.Response{Status: 503, Body: "unavailable"}
	_, jobID := f.enqueue("<Invoice/>")

	res, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	job, _ := f.store.Job(jobID)
	assert.Equal(t, compliance.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "503")
	assert.Equal(t, string(compliance.FailureHTTP), *job.FailureKind)
	assert.Equal(t, 503, *job.ResponseStatus)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, epoch.Add(5*time.Minute), *job.NextRunAt)
	assert.Empty(t, f.invoices.recorded)

	res, err = f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed, "job is not due before its backoff")

	f.store.Advance(5 * time.Minute)
	f.authority.resp = authority.Response{OK: true, Status: 200, Body: "ACK"}
	res, err = f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	job, _ = f.store.Job(jobID)
	assert.Equal(t, compliance.StatusDone, job.Status)
	assert.Nil(t, job.LastError)
}

func TestProcessBatchFailureKinds(t *testing.T) {
	cases := []struct {
		name      string
		signer    stubSigner
		xml       string
		tweak     func(*stubAuthority)
		kind      compliance.FailureKind
		message   string
		permanent bool
	}{
		{name: "missing payload", kind: compliance.FailureMissingPayload, message: "Missing XML payload"},
		{name: "no certificate", xml: "<x/>", signer: stubSigner{err: signing.ErrNoActiveCertificate},
			kind: compliance.FailureNoCertificate, message: "No active certificate"},
		{name: "decryption", xml: "<x/>", signer: stubSigner{err: fmt.Errorf("open key: %w", certificates.ErrDecryption)},
			kind: compliance.FailureDecryption, message: "reissue required", permanent: true},
		{name: "configuration", xml: "<x/>", signer: stubSigner{err: certificates.ErrConfiguration},
			kind: compliance.FailureConfiguration, permanent: true},
		{name: "validator rejects", xml: "<x/>", tweak: func(a *stubAuthority) {
			a.validation = authority.Validation{OK: false, Errors: []string{"BR-01", "BR-02"}}
		}, kind: compliance.FailureValidation, message: "Validation failed: BR-01; BR-02"},
		{name: "transport", xml: "<x/>", tweak: func(a *stubAuthority) {
			a.submitErr = errors.New("dial tcp: connection refused")
		}, kind: compliance.FailureTransport, message: "connection refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.signer)
			if tc.tweak != nil {
				tc.tweak(f.authority)
			}
			_, jobID := f.enqueue(tc.xml)

			res, err := f.processor.ProcessBatch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Failed)

			job, _ := f.store.Job(jobID)
			assert.Equal(t, compliance.StatusFailed, job.Status)
			assert.Equal(t, 1, job.Attempts)
			assert.Equal(t, string(tc.kind), *job.FailureKind)
			if tc.message != "" {
				assert.Contains(t, *job.LastError, tc.message)
			}
			if tc.permanent {
				assert.Nil(t, job.NextRunAt)
			} else {
				assert.NotNil(t, job.NextRunAt)
			}
			assert.Empty(t, f.invoices.recorded)
			assert.Equal(t, []string{events.SubjectJobFailed}, f.events.Subjects())
		})
	}
}

func TestValidatorRejectionSkipsSubmit(t *testing.T) {
	f := newFixture(t, stubSigner{})
	f.authority.validation = authority.Validation{OK: false, Errors: []string{"bad"}}
	f.enqueue("<x/>")

	_, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.authority.submitted)
}

func TestProcessBatchIsolatesPanics(t *testing.T) {
	f := newFixture(t, stubSigner{})
	broken, brokenJob := f.enqueue("<a/>")
	f.invoices.panicOn = broken
	_, healthyJob := f.enqueue("<b/>")

	res, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, compliance.Result{Processed: 2, Succeeded: 1, Failed: 1, Limit: 5}, res)

	job, _ := f.store.Job(brokenJob)
	assert.Equal(t, compliance.StatusFailed, job.Status)
	assert.Equal(t, string(compliance.FailureInternal), *job.FailureKind)
	assert.Contains(t, *job.LastError, "corrupt row")

	job, _ = f.store.Job(healthyJob)
	assert.Equal(t, compliance.StatusDone, job.Status)
}

func TestRecordSubmissionFailureKeepsResponse(t *testing.T) {
	f := newFixture(t, stubSigner{})
	f.invoices.recordErr = errors.New("db down")
	_, jobID := f.enqueue("<a/>")

	_, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	job, _ := f.store.Job(jobID)
	assert.Equal(t, compliance.StatusFailed, job.Status)
	assert.Equal(t, 200, *job.ResponseStatus)
}

func TestProcessBatchWithoutEndpointClaimsNothing(t *testing.T) {
	f := newFixture(t, stubSigner{})
	f.authority.noEndpoint = true
	_, jobID := f.enqueue("<a/>")

	_, err := f.processor.ProcessBatch(context.Background())
	require.ErrorIs(t, err, authority.ErrNoEndpoint)
	job, _ := f.store.Job(jobID)
	assert.Equal(t, compliance.StatusQueued, job.Status)
}

func TestBatchRespectsSizeAndAge(t *testing.T) {
	f := newFixture(t, stubSigner{})
	var ids []uuid.UUID
	for i := 0; i < 7; i++ {
		_, id := f.enqueue(fmt.Sprintf("<n%d/>", i))
		ids = append(ids, id)
	}
	res, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.False(t, res.Short())
	for i, id := range ids {
		job, _ := f.store.Job(id)
		if i < 5 {
			assert.Equal(t, compliance.StatusDone, job.Status, "job %d", i)
		} else {
			assert.Equal(t, compliance.StatusQueued, job.Status, "job %d", i)
		}
	}
}

func TestClaimSkipsInvoiceWithRunningJob(t *testing.T) {
	store := compliancetest.NewMemoryStore(epoch)
	business, invoice := uuid.New(), uuid.New()
	first := store.Enqueue(business, invoice, compliance.JobReport)
	second := store.Enqueue(business, invoice, compliance.JobReport)
	other := store.Enqueue(business, invoice, compliance.JobClear)

	claimed, err := store.Claim(context.Background(), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, first, claimed[0].ID)

	claimed, err = store.Claim(context.Background(), 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, other, claimed[0].ID)

	job, _ := store.Job(second)
	assert.Equal(t, compliance.StatusQueued, job.Status)
}

func TestReapRequeuesExpiredLeases(t *testing.T) {
	f := newFixture(t, stubSigner{})
	_, jobID := f.enqueue("<a/>")
	_, err := f.store.Claim(context.Background(), 1, 10*time.Minute)
	require.NoError(t, err)

	n, err := f.processor.Reap(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.store.Advance(11 * time.Minute)
	n, err = f.processor.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, _ := f.store.Job(jobID)
	assert.Equal(t, compliance.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "lease expired", *job.LastError)
	assert.Equal(t, f.store.Now().Add(5*time.Minute), *job.NextRunAt)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "processed=3 succeeded=2 failed=1", compliance.Result{Processed: 3, Succeeded: 2, Failed: 1}.String())
}
