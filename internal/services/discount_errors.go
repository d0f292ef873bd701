package services

import "errors"

var (
	// ErrDiscountRepositoryMissing indicates the discount repository dependency was not supplied or is unavailable.
	ErrDiscountRepositoryMissing = errors.New("discount service: repository is required")
	// ErrDiscountInvalidCode indicates the supplied code value is empty or malformed.
	ErrDiscountInvalidCode = errors.New("discount service: invalid code")
	// ErrDiscountNotFound indicates no code definition matches the lookup.
	ErrDiscountNotFound = errors.New("discount service: code not found")
	// ErrDiscountDuplicateCode indicates another definition already uses the code value.
	ErrDiscountDuplicateCode = errors.New("discount service: code already exists")
	// ErrDiscountInvalidDefinition indicates an admin submitted an inconsistent code definition.
	ErrDiscountInvalidDefinition = errors.New("discount service: invalid definition")
)
