package ubl

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrTLVValueTooLong reports a QR field that does not fit a one-byte length.
var ErrTLVValueTooLong = errors.New("ubl: qr field exceeds 255 bytes")

// QRFields are the simplified-invoice QR values in tag order 1..5.
type QRFields struct {
	SellerName string
	VATNumber  string
	Timestamp  string
	Total      string
	VATAmount  string
}

// QRPayload returns the base64 tag-length-value encoding of fields.
func QRPayload(fields QRFields) (string, error) {
	values := []string{fields.SellerName, fields.VATNumber, fields.Timestamp, fields.Total, fields.VATAmount}
	buf := make([]byte, 0, 128)
	for i, v := range values {
		if len(v) > 255 {
			return "", fmt.Errorf("%w: tag %d", ErrTLVValueTooLong, i+1)
		}
		buf = append(buf, byte(i+1), byte(len(v)))
		buf = append(buf, v...)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
