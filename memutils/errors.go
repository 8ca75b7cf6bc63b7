package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is returned from CheckPow2 when a size that must be a power of two, such as an
// alignment or a growth chunk, is not
var PowerOfTwoError error = errors.New("number must be a power of two")
