package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithoutURLIsNoop(t *testing.T) {
	p, closeFn, err := Connect("", nil)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, Noop{}, p)
	assert.NoError(t, p.Publish(context.Background(), SubjectJobDone, map[string]string{"a": "b"}))
}

func TestConnectFailsOnUnreachableServer(t *testing.T) {
	_, _, err := Connect("nats://127.0.0.1:1", nil)
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), SubjectInvoiceStatus, 1))
	require.NoError(t, r.Publish(context.Background(), SubjectJobFailed, 2))
	assert.Equal(t, []string{SubjectInvoiceStatus, SubjectJobFailed}, r.Subjects())
}
