package sales

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type ErrorKind string

const (
	KindNotFound               ErrorKind = "NOT_FOUND"
	KindDuplicateInvoiceNumber ErrorKind = "DUPLICATE_INVOICE_NUMBER"
	KindInsufficientStock      ErrorKind = "INSUFFICIENT_STOCK"
	KindInvalidLine            ErrorKind = "INVALID_LINE"
	KindInvalidInvoice         ErrorKind = "INVALID_INVOICE"
	KindInvalidBatch           ErrorKind = "INVALID_PRODUCTION_BATCH"
	KindStorageFailure         ErrorKind = "STORAGE_FAILURE"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidLine            = errors.New("invalid line")
	ErrInvalidInvoice         = errors.New("invalid invoice")
	ErrInvalidBatch           = errors.New("invalid production batch")
	ErrStorageFailure         = errors.New("storage failure")
)

var sentinelByKind = map[ErrorKind]error{
	KindNotFound:               ErrNotFound,
	KindDuplicateInvoiceNumber: ErrDuplicateInvoiceNumber,
	KindInsufficientStock:      ErrInsufficientStock,
	KindInvalidLine:            ErrInvalidLine,
	KindInvalidInvoice:         ErrInvalidInvoice,
	KindInvalidBatch:           ErrInvalidBatch,
	KindStorageFailure:         ErrStorageFailure,
}

// SaleError is the only error type returned by Service. errors.Is matches the
// kind sentinel; errors.Unwrap yields the storage cause when there is one.
type SaleError struct {
	Kind    ErrorKind
	Message string

	Entity   string
	EntityId int

	InvoiceNumber string

	// LineIndex is the position in the submitted lines, -1 when not line specific.
	LineIndex int
	Field     string

	LotId     int
	Requested decimal.Decimal
	Available decimal.Decimal

	Err error
}

func (e *SaleError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *SaleError) Unwrap() error {
	return e.Err
}

func (e *SaleError) Is(target error) bool {
	return sentinelByKind[e.Kind] == target
}

// Details is the structured part of the error for transport layers.
func (e *SaleError) Details() map[string]any {
	d := map[string]any{}
	switch e.Kind {
	case KindNotFound:
		d["entity"] = e.Entity
		d["id"] = e.EntityId
	case KindDuplicateInvoiceNumber:
		d["invoice_number"] = e.InvoiceNumber
	case KindInsufficientStock:
		d["production_batch_id"] = e.LotId
		d["requested"] = e.Requested.String()
		d["available"] = e.Available.String()
	case KindInvalidLine:
		d["line_index"] = e.LineIndex
	case KindInvalidInvoice, KindInvalidBatch:
		d["field"] = e.Field
	}
	return d
}

// KindOf returns the kind of a SaleError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *SaleError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

func notFound(entity string, id int) *SaleError {
	return &SaleError{
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("%s %d not found", entity, id),
		Entity:    entity,
		EntityId:  id,
		LineIndex: -1,
	}
}

func lineNotFound(index int, entity string, id int) *SaleError {
	e := notFound(entity, id)
	e.LineIndex = index
	e.Message = fmt.Sprintf("line %d: %s", index, e.Message)
	return e
}

func duplicateInvoiceNumber(number string) *SaleError {
	return &SaleError{
		Kind:          KindDuplicateInvoiceNumber,
		Message:       fmt.Sprintf("invoice number %q is already used", number),
		InvoiceNumber: number,
		LineIndex:     -1,
	}
}

func insufficientStock(lotId int, requested, available decimal.Decimal) *SaleError {
	return &SaleError{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock on production batch %d (available=%s, requested=%s)", lotId, available.String(), requested.String()),
		LotId:     lotId,
		Requested: requested,
		Available: available,
		LineIndex: -1,
	}
}

func invalidLine(index int, format string, args ...any) *SaleError {
	return &SaleError{
		Kind:      KindInvalidLine,
		Message:   fmt.Sprintf("line %d: ", index) + fmt.Sprintf(format, args...),
		LineIndex: index,
	}
}

func invalidInvoice(field string, format string, args ...any) *SaleError {
	return &SaleError{
		Kind:      KindInvalidInvoice,
		Message:   fmt.Sprintf(format, args...),
		Field:     field,
		LineIndex: -1,
	}
}

func invalidBatch(field string, format string, args ...any) *SaleError {
	return &SaleError{
		Kind:      KindInvalidBatch,
		Message:   fmt.Sprintf(format, args...),
		Field:     field,
		LineIndex: -1,
	}
}

func storageFailure(op string, err error) *SaleError {
	return &SaleError{
		Kind:      KindStorageFailure,
		Message:   op,
		LineIndex: -1,
		Err:       err,
	}
}

// asSaleError passes SaleErrors through and wraps anything else as a storage failure.
func asSaleError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SaleError
	if errors.As(err, &se) {
		return se
	}
	return storageFailure(op, err)
}
