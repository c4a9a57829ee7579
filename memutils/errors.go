package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested
// is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// AlignmentError is the error returned from CheckAlign when a value does not sit on the required
// granularity boundary
var AlignmentError error = errors.New("value is not aligned to the required granularity")
