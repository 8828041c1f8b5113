package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"checkout-service/apperrors"
)

// RequestSignedFields is the fixed field order eSewa expects on payment initiation.
var RequestSignedFields = []string{"total_amount", "transaction_uuid", "product_code"}

// ErrMissingSecret is returned when no eSewa secret key is configured.
var ErrMissingSecret = apperrors.New(apperrors.KindConfiguration, "esewa secret key not configured", nil)

// Sign computes the base64 HMAC-SHA256 signature of
// total_amount=<amount>,transaction_uuid=<txID>,product_code=<productCode>.
func Sign(amount, txID, productCode string, secret []byte) (string, error) {
	return signFields(RequestSignedFields, map[string]string{
		"total_amount":     amount,
		"transaction_uuid": txID,
		"product_code":     productCode,
	}, secret)
}

func signFields(fields []string, values map[string]string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+"="+values[f])
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(parts, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// SignedRequest is the form data the storefront posts to eSewa.
type SignedRequest struct {
	TotalAmount      string `json:"total_amount"`
	TransactionUUID  string `json:"transaction_uuid"`
	ProductCode      string `json:"product_code"`
	SignedFieldNames string `json:"signed_field_names"`
	Signature        string `json:"signature"`
}

// SignatureEngine holds the server-side eSewa credentials. The secret never
// leaves this type.
type SignatureEngine struct {
	secret      []byte
	productCode string
}

func NewSignatureEngine(secret, productCode string) *SignatureEngine {
	return &SignatureEngine{secret: []byte(secret), productCode: productCode}
}

// Configured reports whether a secret key is present.
func (e *SignatureEngine) Configured() bool {
	return len(e.secret) > 0
}

func (e *SignatureEngine) ProductCode() string {
	return e.productCode
}

// SignRequest signs an outbound payment initiation.
func (e *SignatureEngine) SignRequest(amount, txID string) (*SignedRequest, error) {
	sig, err := Sign(amount, txID, e.productCode, e.secret)
	if err != nil {
		return nil, err
	}
	return &SignedRequest{
		TotalAmount:      amount,
		TransactionUUID:  txID,
		ProductCode:      e.productCode,
		SignedFieldNames: strings.Join(RequestSignedFields, ","),
		Signature:        sig,
	}, nil
}

// Verify checks signature against the listed fields of values, in the
// order they appear in signedFieldNames.
func (e *SignatureEngine) Verify(signedFieldNames string, values map[string]string, signature string) error {
	fields := strings.Split(signedFieldNames, ",")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
		if _, ok := values[fields[i]]; !ok {
			return apperrors.Newf(apperrors.KindAuthentication, "signed field %q missing from callback", fields[i])
		}
	}

	expected, err := signFields(fields, values, e.secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperrors.New(apperrors.KindAuthentication, "callback signature mismatch", nil)
	}
	return nil
}
