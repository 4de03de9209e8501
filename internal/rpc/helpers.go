package rpc

import (
	"errors"

	"github.com/agor/agor/internal/common/apperr"
)

// badRequest wraps a gin binding error (malformed JSON, a failed
// `binding:"required"` tag) as a Validation kind so writeError reports it
// as 422 rather than falling through to the Internal/500 default.
func badRequest(err error) error {
	return apperr.Validationf("%v", err)
}

var errMissingBoardID = errors.New("board_id query parameter is required")
