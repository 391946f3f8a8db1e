package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOTPEmail(t *testing.T) {
	tests := []struct {
		purpose OTPPurpose
		subject string
		lead    string
	}{
		{OTPPurposeLogin, "Login Verification OTP - College ERP", "Your verification OTP is: 123456"},
		{OTPPurposeResend, "Login OTP - College ERP", "Your login OTP is: 123456"},
		{OTPPurposeReset, "Password Reset OTP - College ERP", "Your password reset OTP is: 123456"},
	}

	for _, tt := range tests {
		t.Run(string(tt.purpose), func(t *testing.T) {
			msg := NewOTPEmail(tt.purpose, "ada@college.edu", "Ada", "123456")

			assert.Equal(t, "ada@college.edu", msg.To)
			assert.Equal(t, tt.subject, msg.Subject)
			assert.Contains(t, msg.TextBody, "Dear Ada,")
			assert.Contains(t, msg.TextBody, tt.lead)
			assert.Contains(t, msg.TextBody, "This OTP will expire in 3 minutes.")
			assert.Contains(t, msg.HTMLBody, "<strong")
			assert.Contains(t, msg.HTMLBody, "123456")
		})
	}
}

func TestNewOTPEmail_EscapesName(t *testing.T) {
	msg := NewOTPEmail(OTPPurposeLogin, "x@college.edu", "<script>", "123456")

	assert.NotContains(t, msg.HTMLBody, "<script>")
	assert.Contains(t, msg.HTMLBody, "&lt;script&gt;")
}
