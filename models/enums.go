package models

import (
	"errors"
	"strings"
)

type ProductType string

const (
	ProductTypeGoods   ProductType = "G"
	ProductTypeService ProductType = "S"
)

func (t ProductType) IsValid() bool {
	return t == ProductTypeGoods || t == ProductTypeService
}

type PaymentStatus string

const (
	PaymentStatusComplete PaymentStatus = "COMPLETE"
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPartial  PaymentStatus = "PARTIAL"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusComplete, PaymentStatusPending, PaymentStatusPartial:
		return true
	}
	return false
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", errors.New("invalid payment status")
	}
	return status, nil
}

type PaymentType string

const (
	PaymentTypeCash   PaymentType = "CASH"
	PaymentTypeBank   PaymentType = "BANK"
	PaymentTypeUpi    PaymentType = "UPI"
	PaymentTypeCheque PaymentType = "CHEQUE"
	PaymentTypeCredit PaymentType = "CREDIT"
)

type SaleEventAction string

const (
	SaleEventActionCreated  SaleEventAction = "CREATED"
	SaleEventActionUpdated  SaleEventAction = "UPDATED"
	SaleEventActionReplaced SaleEventAction = "REPLACED"
	SaleEventActionDeleted  SaleEventAction = "DELETED"
)

// Publish status of a sale_events row.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
