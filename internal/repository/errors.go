// Package repository defines the persistence interfaces for users and their
// analysis history together with the MySQL, MongoDB and in-memory
// implementations.  Sentinel errors let the service layer distinguish
// failure scenarios without knowing which backend is in use.
package repository

import "errors"

// ErrEmailExists is returned by UserStore.Create when another user already
// registered the same (normalized) email.  Handlers translate it into 409.
var ErrEmailExists = errors.New("email already exists")

// ErrNotFound is returned when the requested user does not exist.
var ErrNotFound = errors.New("not found")
