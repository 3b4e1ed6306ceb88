package service

import "errors"

var ErrInvalidVerifyKey = errors.New("invalid verification key")
