package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testSecret = "test-secret-key"

func TestVerifySignature(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		signature string
		secret    string
		want      bool
	}{
		{
			name:      "valid signature",
			payload:   `{"event":"payment.captured"}`,
			signature: Sign([]byte(`{"event":"payment.captured"}`), testSecret),
			secret:    testSecret,
			want:      true,
		},
		{
			name:      "wrong signature",
			payload:   `{"event":"payment.captured"}`,
			signature: "deadbeef",
			secret:    testSecret,
			want:      false,
		},
		{
			name:      "empty signature",
			payload:   `{"event":"payment.captured"}`,
			signature: "",
			secret:    testSecret,
			want:      false,
		},
		{
			name:      "wrong secret",
			payload:   `{"event":"payment.captured"}`,
			signature: Sign([]byte(`{"event":"payment.captured"}`), "other-secret"),
			secret:    testSecret,
			want:      false,
		},
		{
			name:      "signature of different body",
			payload:   `{"event":"payment.captured"}`,
			signature: Sign([]byte(`{"event":"payment.failed"}`), testSecret),
			secret:    testSecret,
			want:      false,
		},
		{
			name:      "non-hex garbage signature",
			payload:   `{"event":"payment.captured"}`,
			signature: "not hex at all!!",
			secret:    testSecret,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature([]byte(tt.payload), tt.signature, tt.secret))
		})
	}
}

func TestVerifyPaymentSignature(t *testing.T) {
	sig := Sign([]byte("order_123|pay_456"), testSecret)

	assert.True(t, VerifyPaymentSignature("order_123", "pay_456", sig, testSecret))
	assert.False(t, VerifyPaymentSignature("order_123", "pay_999", sig, testSecret))
	assert.False(t, VerifyPaymentSignature("order_999", "pay_456", sig, testSecret))
	assert.False(t, VerifyPaymentSignature("", "pay_456", sig, testSecret))
	assert.False(t, VerifyPaymentSignature("order_123", "", sig, testSecret))
}
