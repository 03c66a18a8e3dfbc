// Package repository implements data access over MySQL. Sentinel errors
// defined here let services and handlers distinguish failure scenarios
// without inspecting driver errors.
package repository

import "errors"

// ErrInsufficientStock is returned by LotRepo.DebitTx when the requested
// quantity would push sold past total. The lot row is left untouched.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrEmailExists is returned when registering a buyer whose email or
// national id is already taken.
var ErrEmailExists = errors.New("email already exists")

// ErrConflict signals that an update cannot proceed because of conflicting
// state, such as validating a ticket that is already used. Handlers should
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
