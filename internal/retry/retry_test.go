package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("device busy")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("bad request")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)

	malformed := Classify(MalformedBody(errors.New("not json")))
	assert.Equal(t, ClassTransient, malformed.Class)
	assert.Equal(t, "malformed_body", malformed.Reason)
}

func TestClassify_RepresentativeRuntimeErrors(t *testing.T) {
	var syntaxErr error = json.Unmarshal([]byte("OK"), &struct{}{})
	require.Error(t, syntaxErr)

	testCases := []struct {
		name           string
		err            error
		expectedClass  Class
		expectedReason string
	}{
		{"context canceled terminal", context.Canceled, ClassTerminal, "context_canceled"},
		{"context deadline transient", context.DeadlineExceeded, ClassTransient, "context_deadline_exceeded"},
		{"wrapped deadline transient", fmt.Errorf("get state: %w", context.DeadlineExceeded), ClassTransient, "context_deadline_exceeded"},
		{"http 503 transient", &StatusError{Code: 503}, ClassTransient, "http_5xx"},
		{"http 429 transient", &StatusError{Code: 429}, ClassTransient, "http_429"},
		{"http 404 transient", &StatusError{Code: 404}, ClassTransient, "http_4xx"},
		{"net timeout transient", timeoutErr{}, ClassTransient, "net_timeout"},
		{"json syntax transient", syntaxErr, ClassTransient, "malformed_body"},
		{"connection refused transient", errors.New("dial tcp: connection refused"), ClassTransient, "message_transient"},
		{"bad scheme terminal", errors.New(`unsupported protocol scheme ""`), ClassTerminal, "message_terminal"},
		{"unknown defaults transient", errors.New("unexpected failure"), ClassTransient, "unknown_transient_default"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.err)
			assert.Equal(t, tc.expectedClass, decision.Class)
			assert.Equal(t, tc.expectedReason, decision.Reason)
		})
	}
}

func TestClassify_NilIsTerminal(t *testing.T) {
	assert.False(t, Classify(nil).IsTransient())
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 5 * time.Second}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(4))
	assert.Equal(t, 5*time.Second, b.Delay(10))
}

func TestBackoff_ZeroValueUsesDefault(t *testing.T) {
	var b Backoff
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, time.Second, b.Delay(2))
}

func TestSleep_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
