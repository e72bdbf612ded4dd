// Package sberrors defines the typed error taxonomy the lifecycle
// controller returns (spec §7) and the HTTP status each maps to.
package sberrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ProfileNotAllowedError means the requested profile name is not in the registry.
type ProfileNotAllowedError struct {
	Profile string
}

func (e *ProfileNotAllowedError) Error() string {
	return fmt.Sprintf("sandbox profile %q is not allowed", e.Profile)
}
func (e *ProfileNotAllowedError) StatusCode() int { return http.StatusForbidden }

// ImageMissingError means the engine reports the image is absent and no
// build was declared, or the build failed.
type ImageMissingError struct {
	Image string
	Err   error
}

func (e *ImageMissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image %q is missing: %v", e.Image, e.Err)
	}
	return fmt.Sprintf("image %q is missing", e.Image)
}
func (e *ImageMissingError) Unwrap() error  { return e.Err }
func (e *ImageMissingError) StatusCode() int { return http.StatusNotFound }

// EngineUnavailableError means the container engine client could not initialize.
type EngineUnavailableError struct {
	Err error
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("container engine unavailable: %v", e.Err)
}
func (e *EngineUnavailableError) Unwrap() error  { return e.Err }
func (e *EngineUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// SessionNotFoundError means the container id or session id is not tracked.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}
func (e *SessionNotFoundError) StatusCode() int { return http.StatusNotFound }

// SessionGoneError means the record existed but the engine reports the
// container vanished; the record has already been removed.
type SessionGoneError struct {
	ContainerID string
}

func (e *SessionGoneError) Error() string {
	return fmt.Sprintf("container %q no longer exists", e.ContainerID)
}
func (e *SessionGoneError) StatusCode() int { return http.StatusNotFound }

// ExecFailedError means the engine API raised during exec; the container
// remains tracked.
type ExecFailedError struct {
	Err error
}

func (e *ExecFailedError) Error() string  { return fmt.Sprintf("exec failed: %v", e.Err) }
func (e *ExecFailedError) Unwrap() error  { return e.Err }
func (e *ExecFailedError) StatusCode() int { return http.StatusInternalServerError }

// StartFailedError means run/build raised in a way that leaves no container.
type StartFailedError struct {
	Err error
}

func (e *StartFailedError) Error() string  { return fmt.Sprintf("start failed: %v", e.Err) }
func (e *StartFailedError) Unwrap() error  { return e.Err }
func (e *StartFailedError) StatusCode() int { return http.StatusInternalServerError }

type statusCoder interface {
	StatusCode() int
}

// StatusCode walks the error chain for a StatusCode() method, returning
// http.StatusInternalServerError if none is found. Mirrors the teacher's
// errors.extractHTTPStatusCode classification style, but dispatches on a
// typed interface instead of substring-matching the message.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// Code returns a short machine-readable error code for the wire response,
// e.g. "ProfileNotAllowed".
func Code(err error) string {
	switch {
	case asType[*ProfileNotAllowedError](err):
		return "ProfileNotAllowed"
	case asType[*ImageMissingError](err):
		return "ImageMissing"
	case asType[*EngineUnavailableError](err):
		return "EngineUnavailable"
	case asType[*SessionNotFoundError](err):
		return "SessionNotFound"
	case asType[*SessionGoneError](err):
		return "SessionGone"
	case asType[*ExecFailedError](err):
		return "ExecFailed"
	case asType[*StartFailedError](err):
		return "StartFailed"
	default:
		return "Internal"
	}
}

func asType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
