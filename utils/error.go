package utils

import "errors"

// ErrorRecordNotFound is returned by the tenant-scoped fetch helpers when a
// row is missing or belongs to another business; the HTTP layer maps it to a
// 404 without leaking which case it was.
var ErrorRecordNotFound = errors.New("record not found")
