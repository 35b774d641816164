package handler

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// FrameworkAPIVersion is the version of the EventHandler contract this
// build of the reactor implements.
const FrameworkAPIVersion = "1.0.0"

// SupportedConstraint is the range of handler-declared API versions
// this build accepts. It widens only on a minor release of this
// package, following ordinary semver compatibility rules.
const SupportedConstraint = "^1.0.0"

// CheckCompatibility validates a handler's declared HandlerAPIVersion
// against SupportedConstraint, refusing to start the reactor on a
// mismatch.
func CheckCompatibility(h EventHandler) error {
	raw := h.HandlerAPIVersion()
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("handler API version %q is not valid semver: %w", raw, err)
	}
	c, err := semver.NewConstraint(SupportedConstraint)
	if err != nil {
		// SupportedConstraint is a package constant; a parse failure
		// here is a programming error in this package, not caller input.
		panic(fmt.Sprintf("epoll-reactor: invalid built-in constraint %q: %v", SupportedConstraint, err))
	}
	if !c.Check(v) {
		return fmt.Errorf("handler API version %s does not satisfy framework constraint %s", v, SupportedConstraint)
	}
	return nil
}
