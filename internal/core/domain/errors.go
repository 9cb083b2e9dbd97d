package domain

import "errors"

var (
	ErrClientNotFound      = errors.New("client not found")
	ErrAlreadyRegistered   = errors.New("client already registered")
	ErrInvalidRole         = errors.New("invalid client role")
	ErrRoleAlreadyDeclared = errors.New("role already declared")
	ErrSelfPair            = errors.New("client cannot be paired with itself")
	ErrNotPaired           = errors.New("client is not paired")
)
