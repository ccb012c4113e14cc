// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package vartype

import (
	"fmt"
	"time"
)

// Unknown is the string representation of a Variable that was never set.
const Unknown = "unknown"

type (
	// VarFloat64 holds an optional float64, e.g. the accuracy radius of a fix in meters.
	VarFloat64 = Variable[float64]

	// VarTime holds an optional point in time, e.g. the moment a fix was taken.
	VarTime = Variable[time.Time]
)

// Variable holds a value of any type and tracks whether it has been set. Location sources
// differ in what they report, so optional values must be distinguishable from zero values.
type Variable[T any] struct {
	value T
	isset bool
}

// NewVariable creates and returns a new Variable instance initialized with the provided value.
func NewVariable[T any](value T) Variable[T] {
	return Variable[T]{
		isset: true,
		value: value,
	}
}

// Reset clears the value of the Variable and marks it as uninitialized.
func (v *Variable[T]) Reset() {
	var newVal T
	v.value = newVal
	v.isset = false
}

// Value retrieves the current value stored in the Variable.
func (v Variable[T]) Value() T {
	return v.value
}

// Get returns the value and whether it was set, in the comma-ok style of map lookups.
func (v Variable[T]) Get() (T, bool) {
	return v.value, v.isset
}

// Set assigns the provided value to the Variable and marks it as initialized.
func (v *Variable[T]) Set(val T) {
	v.value = val
	v.isset = true
}

// IsSet returns true if the Variable has been initialized with a value, otherwise false.
func (v Variable[T]) IsSet() bool {
	return v.isset
}

func (v Variable[T]) String() string {
	if !v.isset {
		return Unknown
	}
	return fmt.Sprint(v.value)
}
