package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"
)

// SignatureVerifier proves that a callback was produced by the gateway holding
// the shared secret. It never touches the store.
type SignatureVerifier struct {
	secret        []byte
	webhookSecret []byte
	logger        *zap.Logger
}

// NewSignatureVerifier creates a verifier for checkout callbacks (keyed with the
// API secret) and webhook bodies (keyed with the webhook secret).
func NewSignatureVerifier(secret, webhookSecret string, logger *zap.Logger) *SignatureVerifier {
	return &SignatureVerifier{
		secret:        []byte(secret),
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}
}

// ComputeSignature returns hex(HMAC-SHA256(secret, orderID|paymentID)).
func ComputeSignature(secret, orderID, paymentID string) string {
	return hex.EncodeToString(sign([]byte(secret), []byte(orderID+"|"+paymentID)))
}

// Verify checks a checkout callback signature in constant time.
func (v *SignatureVerifier) Verify(orderID, paymentID, signature string) *ServiceError {
	expected := sign(v.secret, []byte(orderID+"|"+paymentID))
	if len(v.secret) > 0 && equalHex(expected, signature) {
		return nil
	}
	v.logger.Warn("security_event",
		zap.String("reason", "signature_mismatch"),
		zap.String("order_id", orderID),
		zap.String("payment_id", paymentID),
	)
	return newServiceError(KindSignatureInvalid, genericPaymentMessage, nil)
}

// VerifyWebhook checks a webhook body signed with the webhook secret.
func (v *SignatureVerifier) VerifyWebhook(body []byte, signature string) *ServiceError {
	expected := sign(v.webhookSecret, body)
	if len(v.webhookSecret) > 0 && equalHex(expected, signature) {
		return nil
	}
	v.logger.Warn("security_event",
		zap.String("reason", "webhook_signature_mismatch"),
		zap.Int("body_len", len(body)),
	)
	return newServiceError(KindSignatureInvalid, genericPaymentMessage, nil)
}

func sign(secret, msg []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return mac.Sum(nil)
}

// equalHex compares against the canonical lowercase encoding so that every
// bit of the presented signature matters, including hex letter case.
func equalHex(expected []byte, signature string) bool {
	return hmac.Equal([]byte(hex.EncodeToString(expected)), []byte(signature))
}
