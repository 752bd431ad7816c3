package invoices

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/fawtara/fawtara/internal/einvoice/ubl"
)

const maxItems = 200

var (
	maxQty       = decimal.NewFromInt(100000)
	maxUnitPrice = decimal.NewFromInt(1_000_000_000)
	one          = decimal.NewFromInt(1)
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("xmltext", func(fl validator.FieldLevel) bool {
		return ubl.ValidText(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// normalize trims and NFC-normalizes free text so equivalent input always
// yields the same canonical document.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func normalizeRequest(req *CreateRequest) {
	req.InvoiceNumber = normalize(req.InvoiceNumber)
	req.CustomerName = normalize(req.CustomerName)
	req.CustomerVAT = strings.TrimSpace(req.CustomerVAT)
	req.NoteReason = normalize(req.NoteReason)
	req.InvoiceType = Type(strings.ToLower(strings.TrimSpace(string(req.InvoiceType))))
	if req.InvoiceType == "" {
		req.InvoiceType = TypeInvoice
	}
	if req.Status == "" {
		req.Status = StatusDraft
	}
	for i := range req.Items {
		it := &req.Items[i]
		it.Description = normalize(it.Description)
		it.VATExemptReason = normalize(it.VATExemptReason)
		it.UnitCode = strings.TrimSpace(it.UnitCode)
		it.VATCategory = strings.ToLower(strings.TrimSpace(it.VATCategory))
	}
}

// validateCreate normalizes req in place and returns ValidationErrors listing
// every problem found.
func validateCreate(v *validator.Validate, req *CreateRequest) error {
	normalizeRequest(req)
	var errs ValidationErrors

	if err := v.Struct(req); err != nil {
		errs = append(errs, fieldMessages(err)...)
	}
	if req.InvoiceType.IsNote() && req.OriginalInvoiceID == nil {
		errs = append(errs, "originalInvoiceId is required for "+string(req.InvoiceType)+" notes")
	}
	if len(req.Items) == 0 && req.Status == StatusIssued {
		errs = append(errs, "items is required")
	}
	if len(req.Items) > maxItems {
		errs = append(errs, "items is too long")
	} else {
		for i, it := range req.Items {
			if lineErrs := validateItem(v, it); len(lineErrs) > 0 {
				errs = append(errs, fmt.Sprintf("items[%d]: %s", i, strings.Join(lineErrs, ", ")))
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateItem(v *validator.Validate, it ItemInput) []string {
	var out []string
	if err := v.Struct(it); err != nil {
		out = append(out, fieldMessages(err)...)
	}
	if !it.Qty.IsPositive() {
		out = append(out, "qty must be > 0")
	} else if it.Qty.GreaterThan(maxQty) {
		out = append(out, "qty is too large")
	}
	if it.UnitPrice.IsNegative() {
		out = append(out, "unitPrice must be >= 0")
	} else if it.UnitPrice.GreaterThan(maxUnitPrice) {
		out = append(out, "unitPrice is too large")
	}
	if it.VATRate != nil && (it.VATRate.IsNegative() || it.VATRate.GreaterThan(one)) {
		out = append(out, "vatRate must be between 0 and 1")
	}
	return out
}

func fieldMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		switch fe.Tag() {
		case "required":
			out = append(out, name+" is required")
		case "max":
			out = append(out, name+" is too long")
		case "xmltext":
			out = append(out, name+" contains invalid characters")
		case "oneof":
			out = append(out, name+" is invalid")
		case "url", "http_url":
			out = append(out, name+" must be a url")
		default:
			out = append(out, fmt.Sprintf("%s failed %s", name, fe.Tag()))
		}
	}
	return out
}
