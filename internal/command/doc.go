// Package command tracks hardware commands from intent to outcome.
//
// A command is recorded QUEUED by Dispatch, idempotently on its
// caller-chosen cmd_id. Send hands it to a Transport (MQTT in production)
// and records SENT or SEND_FAILED. Nodes report back with acknowledgements,
// which are appended and never move the status by themselves; status moves
// only through explicit UpdateStatus writes or the SweepTimeouts watchdog.
//
//	QUEUED → SENT → ACCEPTED → DONE
//
// FAILED and TIMEOUT are reachable from QUEUED, SENT and ACCEPTED;
// SEND_FAILED from QUEUED and SENT. Once a command is final, further
// status writes are accepted and ignored, so at-least-once delivery of
// acknowledgements is harmless.
package command
