package plugin

import (
	"errors"
	"fmt"
)

// Plugin host errors.
var (
	// ErrManifestNotFound is returned when a folder carries no manifest. Such a
	// folder is simply not a plugin.
	ErrManifestNotFound = errors.New("plugin manifest not found")

	// ErrInvalidManifest is returned when a manifest cannot be decoded or lacks
	// the identity fields.
	ErrInvalidManifest = errors.New("invalid plugin manifest")

	// ErrEntryPointNotFound is returned when no resolver knows the entry point.
	ErrEntryPointNotFound = errors.New("plugin entry point not found")

	// ErrPluginNotRegistered is returned when a category/name pair has no
	// registry entry.
	ErrPluginNotRegistered = errors.New("plugin not registered")

	// ErrProtocolViolation marks a hook that did not hand back a Completion.
	ErrProtocolViolation = errors.New("plugin hook violates the completion protocol")

	// ErrNoInstance is returned when a constructor yields neither an instance
	// nor an error.
	ErrNoInstance = errors.New("plugin constructor returned no instance")

	// ErrInstantiation matches every *InstantiationError.
	ErrInstantiation = errors.New("plugin instantiation failed")
)

// PanicError carries a value recovered from a panicking plugin along with the
// stack at the point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return fmt.Sprintf("panic: %v", err)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the recovered value when it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// InstantiationError reports that a plugin could not be constructed or
// provisioned.
type InstantiationError struct {
	Category string
	Name     string
	Err      error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("plugin %s/%s failed to load: %v", e.Category, e.Name, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrInstantiation.
func (e *InstantiationError) Is(target error) bool { return target == ErrInstantiation }

// stackOf returns the captured stack when err stems from a recovered panic.
func stackOf(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return string(pe.Stack)
	}
	return ""
}
