package command

import "github.com/nerrad567/gray-logic-grow/internal/apperr"

// Domain errors for the command package.
var (
	ErrCommandNotFound = apperr.New(apperr.KindNotFound, "command_not_found", "command not found")

	ErrInvalidCommand      = apperr.New(apperr.KindValidation, "invalid_command", "invalid command")
	ErrInvalidAck          = apperr.New(apperr.KindValidation, "invalid_ack", "invalid acknowledgement")
	ErrInvalidStatusUpdate = apperr.New(apperr.KindValidation, "invalid_status_update", "invalid status update")
	ErrInvalidSweep        = apperr.New(apperr.KindValidation, "invalid_sweep", "timeout sweep needs a positive age")

	ErrIllegalStatus = apperr.New(apperr.KindState, "invalid_status_transition", "status change not allowed from the current status")

	ErrNoTransport = apperr.New(apperr.KindUpstream, "transport_unavailable", "no command transport is configured")

	// errCmdIDTaken is the UNIQUE fallback for a concurrent dispatch that
	// slipped past the in-transaction lookup.
	errCmdIDTaken = apperr.New(apperr.KindConflict, "cmd_id_taken", "cmd_id already recorded")
)
