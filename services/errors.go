package services

import "net/http"

// ErrorKind names a class of failure. It is returned to clients as errorKind.
type ErrorKind string

const (
	KindValidation         ErrorKind = "ValidationError"
	KindCourseUnavailable  ErrorKind = "CourseUnavailable"
	KindNotFound           ErrorKind = "NotFound"
	KindSignatureInvalid   ErrorKind = "SignatureInvalid"
	KindAmountMismatch     ErrorKind = "AmountMismatch"
	KindPaymentNotComplete ErrorKind = "PaymentNotComplete"
	KindPaymentConflict    ErrorKind = "PaymentConflict"
	KindGatewayUnavailable ErrorKind = "GatewayUnavailable"
	KindStoreFailure       ErrorKind = "StoreFailure"
	KindInternal           ErrorKind = "Internal"
)

var kindStatus = map[ErrorKind]int{
	KindValidation:         http.StatusBadRequest,
	KindCourseUnavailable:  http.StatusBadRequest,
	KindNotFound:           http.StatusNotFound,
	KindSignatureInvalid:   http.StatusBadRequest,
	KindAmountMismatch:     http.StatusConflict,
	KindPaymentNotComplete: http.StatusConflict,
	KindPaymentConflict:    http.StatusConflict,
	KindGatewayUnavailable: http.StatusServiceUnavailable,
	KindStoreFailure:       http.StatusInternalServerError,
	KindInternal:           http.StatusInternalServerError,
}

// genericPaymentMessage is the only thing a client learns about a rejected signature.
const genericPaymentMessage = "invalid payment"

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

func newServiceError(kind ErrorKind, message string, err error) *ServiceError {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &ServiceError{Kind: kind, StatusCode: status, Message: message, Err: err}
}

// fulfillmentPending is the StoreFailure surfaced once a payment is recorded
// but access could not be granted yet.
func fulfillmentPending(err error) *ServiceError {
	e := newServiceError(KindStoreFailure, "payment received; course access is pending", err)
	e.StatusCode = http.StatusAccepted
	return e
}
