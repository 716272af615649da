package project

import (
	"errors"

	"pcbmill/internal/event"
)

var (
	ErrUnknownSetupKey   = event.WithCode(event.CodeInvalidArgument, errors.New("unknown setup key"))
	ErrInvalidSetupValue = event.WithCode(event.CodeInvalidArgument, errors.New("invalid setup value"))
	ErrInvalidName       = event.WithCode(event.CodeInvalidArgument, errors.New("invalid project name"))
	ErrNoGerberVersion   = event.WithCode(event.CodeInvalidArgument, errors.New("no gerber version committed"))
	ErrVersionNotFound   = event.WithCode(event.CodeNotFound, errors.New("version not found"))
	ErrSidecarMissing    = event.WithCode(event.CodeNotFound, errors.New("project sidecar not found"))
	ErrActorClosed       = errors.New("project actor closed")

	// ErrMetadataNotSaved reports a version directory that was published
	// while the sidecar still describes the previous version.
	ErrMetadataNotSaved = errors.New("version committed but project metadata not saved")
)
