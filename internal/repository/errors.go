package repository

import "errors"

var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}
