package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"checkout-service/apperrors"

	"github.com/shopspring/decimal"
)

// EsewaStatusComplete is the only eSewa status that confirms payment.
const EsewaStatusComplete = "COMPLETE"

// EsewaCallback is the decoded "data" blob eSewa appends to the success redirect.
type EsewaCallback struct {
	TransactionUUID  string
	TotalAmount      string
	Status           string
	TransactionCode  string
	ProductCode      string
	SignedFieldNames string
	Signature        string

	// Fields holds every top-level value as a string, for signature checks.
	Fields map[string]string
	Raw    []byte
}

func malformed(format string, args ...interface{}) error {
	return apperrors.New(apperrors.KindMalformed, "malformed callback", fmt.Errorf(format, args...))
}

// DecodeEsewaCallback decodes the base64 JSON blob. It requires
// transaction_uuid, total_amount and status.
func DecodeEsewaCallback(data string) (*EsewaCallback, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, malformed("data parameter missing")
	}
	// '+' arrives as ' ' when the blob was not query-escaped.
	data = strings.ReplaceAll(data, " ", "+")

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err != nil {
			return nil, malformed("invalid base64: %v", err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, malformed("invalid json: %v", err)
	}

	fields := make(map[string]string, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = fmt.Sprintf("%t", val)
		case nil:
			fields[k] = ""
		}
	}

	cb := &EsewaCallback{
		TransactionUUID:  fields["transaction_uuid"],
		TotalAmount:      fields["total_amount"],
		Status:           fields["status"],
		TransactionCode:  fields["transaction_code"],
		ProductCode:      fields["product_code"],
		SignedFieldNames: fields["signed_field_names"],
		Signature:        fields["signature"],
		Fields:           fields,
		Raw:              raw,
	}
	switch {
	case cb.TransactionUUID == "":
		return nil, malformed("transaction_uuid missing")
	case cb.TotalAmount == "":
		return nil, malformed("total_amount missing")
	case cb.Status == "":
		return nil, malformed("status missing")
	}
	return cb, nil
}

// Amount parses total_amount, tolerating thousands separators ("1,000.0").
func (c *EsewaCallback) Amount() (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(strings.ReplaceAll(c.TotalAmount, ",", ""))
	if err != nil {
		return decimal.Zero, malformed("total_amount %q is not a number", c.TotalAmount)
	}
	return amt, nil
}

// VerifyEsewaCallback authenticates a decoded callback: the status must be
// COMPLETE and, when the callback is signed, the signature must match.
// requireSignature rejects unsigned callbacks.
func VerifyEsewaCallback(cb *EsewaCallback, engine *SignatureEngine, requireSignature bool) error {
	if cb.Status != EsewaStatusComplete {
		return apperrors.Newf(apperrors.KindAuthentication, "payment not completed: status %s", cb.Status)
	}
	if cb.Signature == "" || cb.SignedFieldNames == "" {
		if requireSignature {
			return apperrors.New(apperrors.KindAuthentication, "callback signature missing", nil)
		}
		return nil
	}
	return engine.Verify(cb.SignedFieldNames, cb.Fields, cb.Signature)
}
