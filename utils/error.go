package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var ErrorLockNotObtained = errors.New("could not obtain lock")

// ErrorDuplicateKey is returned by stores when a unique index rejects a write.
var ErrorDuplicateKey = errors.New("duplicate key")

// ErrorStateConflict is returned when a row exists but its status forbids the change.
var ErrorStateConflict = errors.New("record state conflict")
