package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name              string
		err               error
		expectedType      ErrorType
		expectedRetryable bool
		expectedSeverity  Severity
	}{
		{
			name:              "network connection refused",
			err:               fmt.Errorf("dial tcp: connection refused"),
			expectedType:      ErrorTypeNetwork,
			expectedRetryable: true,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "net.OpError",
			err:               &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")},
			expectedType:      ErrorTypeNetwork,
			expectedRetryable: true,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "deadline exceeded",
			err:               fmt.Errorf("fetch page: %w", context.DeadlineExceeded),
			expectedType:      ErrorTypeTimeout,
			expectedRetryable: true,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "rate limit message",
			err:               fmt.Errorf("rate limit exceeded"),
			expectedType:      ErrorTypeRateLimit,
			expectedRetryable: true,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "authentication",
			err:               fmt.Errorf("unauthorized: invalid credentials"),
			expectedType:      ErrorTypeAuthentication,
			expectedRetryable: false,
			expectedSeverity:  SeverityHigh,
		},
		{
			name:              "malformed payload",
			err:               fmt.Errorf("malformed candle payload"),
			expectedType:      ErrorTypeValidation,
			expectedRetryable: false,
			expectedSeverity:  SeverityMedium,
		},
		{
			name:              "service unavailable",
			err:               fmt.Errorf("503 service unavailable"),
			expectedType:      ErrorTypeServerError,
			expectedRetryable: true,
			expectedSeverity:  SeverityMedium,
		},
		{
			name:              "canceled",
			err:               context.Canceled,
			expectedType:      ErrorTypeCanceled,
			expectedRetryable: false,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "unknown is retried",
			err:               fmt.Errorf("something odd happened"),
			expectedType:      ErrorTypeUnknown,
			expectedRetryable: true,
			expectedSeverity:  SeverityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			require.NotNil(t, classified)
			assert.Equal(t, tt.expectedType, classified.Type)
			assert.Equal(t, tt.expectedRetryable, classified.Retryable)
			assert.Equal(t, tt.expectedSeverity, classified.Severity)
			assert.Equal(t, tt.expectedRetryable, IsRetryable(tt.err))
		})
	}
}

func TestClassify_PreservesExplicitKind(t *testing.T) {
	base := errors.New("symbol not listed")
	fatal := Fatal(ErrorTypeBadRequest, "binance", "fetch_page", base)
	wrapped := fmt.Errorf("page 3: %w", fatal)

	assert.Same(t, fatal, Classify(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, ErrorTypeBadRequest, GetErrorType(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.ErrorIs(t, wrapped, &ClassifiedError{Type: ErrorTypeBadRequest})
	assert.NotErrorIs(t, wrapped, &ClassifiedError{Type: ErrorTypeRateLimit})

	transient := Transient(ErrorTypeValidation, "coinbase", "fetch_page", base)
	assert.True(t, IsRetryable(transient))
	assert.Contains(t, transient.Error(), "[coinbase/validation] fetch_page")
}

func TestNew_RetryableFollowsType(t *testing.T) {
	for _, typ := range []ErrorType{ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeTemporary} {
		assert.True(t, New(typ, "c", "op", errors.New("x")).Retryable, typ)
	}
	for _, typ := range []ErrorType{ErrorTypeAuthentication, ErrorTypeBadRequest, ErrorTypeNotFound, ErrorTypeValidation, ErrorTypeConfiguration, ErrorTypeCanceled} {
		assert.False(t, New(typ, "c", "op", errors.New("x")).Retryable, typ)
	}
	assert.False(t, IsRetryable(nil))
	assert.Nil(t, Classify(nil))
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "low", SeverityLow.String())
	assert.Equal(t, "medium", SeverityMedium.String())
	assert.Equal(t, "high", SeverityHigh.String())
	assert.Equal(t, "critical", SeverityCritical.String())
	assert.Equal(t, "unknown", Severity(42).String())
}
