package session

import "errors"

var (
	// ErrSessionExists is returned by CreateSession when id is already taken
	// (spec.md §6: 409 Conflict).
	ErrSessionExists = errors.New("session: already exists")
	// ErrSessionNotFound is returned by any operation naming an unknown session id.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrWorkerNotLoaded is returned by worker operations (Trigger, Inject,
	// Stop, Resume, Replay) on a session with no loaded worker.
	ErrWorkerNotLoaded = errors.New("session: worker not loaded")
	// ErrWorkerAlreadyLoaded is returned by LoadWorker on a session that
	// already has a worker; callers must UnloadWorker first.
	ErrWorkerAlreadyLoaded = errors.New("session: worker already loaded")
	// ErrUnknownEntryPoint is returned by Trigger when entryPointID does not
	// name any of the worker graph's EntryPoints.
	ErrUnknownEntryPoint = errors.New("session: unknown entry point")
	// ErrExecutionNotFound is returned by Stop/Inject when executionID names
	// no tracked worker execution.
	ErrExecutionNotFound = errors.New("session: execution not found")
	// ErrNoActiveRecipient is returned by Chat when neither a blocked worker
	// nor an active queen can receive the message (spec.md §6: 503).
	ErrNoActiveRecipient = errors.New("session: no active recipient for chat")
	// ErrCheckpointsDisabled is returned by Resume/Replay when the Manager
	// was built with no checkpoint store.
	ErrCheckpointsDisabled = errors.New("session: checkpoints disabled")
)
