package extract

import (
	"errors"

	"github.com/btcrecover/go-extract/types"
)

type (
	FormatError   = types.FormatError
	NotFoundError = types.NotFoundError
)

var ErrInvalidOption = errors.New("invalid option")
