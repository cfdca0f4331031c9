package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		auth      bool
	}{
		{"transport", &TransportError{Op: "orders", Err: errors.New("dial tcp: timeout")}, true, false},
		{"upstream", &UpstreamHTTPError{Op: "orders", Status: 502}, true, false},
		{"malformed", &MalformedResponseError{Op: "orders", Err: errors.New("unexpected EOF")}, true, false},
		{"wrapped upstream", fmt.Errorf("page 3: %w", &UpstreamHTTPError{Op: "orders", Status: 500}), true, false},
		{"auth", &AuthError{Integration: "contact", Status: 400, Diagnostic: "invalid_grant"}, false, true},
		{"write", &WriteError{Table: "orders", Key: "1", Err: errors.New("boom")}, false, false},
		{"missing key", &MissingNaturalKeyError{Entity: "customer", Key: "email"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.auth, IsAuth(tt.err))
		})
	}
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "contact auth failed (HTTP 401): invalid_client",
		(&AuthError{Integration: "contact", Status: 401, Diagnostic: "invalid_client"}).Error())
	assert.Equal(t, "source auth failed: no credentials configured",
		(&AuthError{Integration: "source", Diagnostic: "no credentials configured"}).Error())
	assert.Equal(t, "customer 42 without email",
		(&MissingNaturalKeyError{Entity: "customer", Key: "email", Ref: "42"}).Error())
	assert.True(t, IsMissingKey(fmt.Errorf("skip: %w", &MissingNaturalKeyError{Entity: "order", Key: "email"})))
}
