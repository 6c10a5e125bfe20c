package account

import "errors"

var (
	ErrNotFound          = errors.New("account: not found")
	ErrAlreadyExists     = errors.New("account: already exists")
	ErrInvalidInput      = errors.New("account: invalid input")
	ErrInvalidRole       = errors.New("account: invalid role")
	ErrWalletTaken       = errors.New("account: wallet already linked to another account")
	ErrIllegalTransition = errors.New("account: illegal role transition")
	ErrChallengeConsumed = errors.New("account: challenge already consumed or replaced")
)
