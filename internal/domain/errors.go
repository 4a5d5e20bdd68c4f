package domain

import "errors"

// Таксономия ошибок движка. Все ошибки валидации синхронны и не меняют состояние:
// вызывающий получает точную причину отказа и сам решает, что делать дальше.
var (
	ErrNotFound           = errors.New("request not found")
	ErrNotPending         = errors.New("request is not pending")
	ErrNotApproved        = errors.New("request is not approved")
	ErrExpired            = errors.New("request has expired")
	ErrDelayNotElapsed    = errors.New("execution delay period has not passed")
	ErrDuplicateSignature = errors.New("signer has already submitted a signature")
	ErrInvalidSignature   = errors.New("signature verification failed")

	// Нарушения политики при создании заявки
	ErrThresholdOutOfRange = errors.New("required signatures out of policy bounds")
	ErrCapacityReached     = errors.New("active request limit reached")

	// Нарушения конечного автомата
	ErrInvalidTransition = errors.New("invalid request status transition")
	ErrAlreadyFinalized  = errors.New("request already in terminal status")
)
