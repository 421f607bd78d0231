// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import (
	"fmt"

	"github.com/spoorlab/dccstation/pkg/dcc"
)

// AnomalyType represents different types of message anomalies
type AnomalyType int

const (
	AnomalyMissingField AnomalyType = iota
	AnomalyInvalidAddress
	AnomalyInvalidSpeed
	AnomalyInvalidFunction
	AnomalyInvalidValue
	AnomalyCRCError
	AnomalyDecodeError
)

// ValidationError represents a message validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateMessage validates message structure and field ranges.
// Returns a slice of validation errors (empty if the message is valid).
func ValidateMessage(m *Message) []ValidationError {
	errors := []ValidationError{}

	switch m.Type() {
	case MsgDriveCommand:
		errors = append(errors, validateDriveCommand(m)...)
	case MsgAccessoryCommand:
		errors = append(errors, validateAccessoryCommand(m)...)
	case MsgFunctionCommand:
		errors = append(errors, validateFunctionCommand(m)...)
	case MsgStateCommand:
		errors = append(errors, validateStateCommand(m)...)
	}

	return errors
}

// requireUint extracts a required uint field, recording an anomaly when
// it is missing.
func requireUint(m *Message, key int, name string, errors *[]ValidationError) (uint64, bool) {
	v, ok := GetMapUint(m.PayloadMap(), key)
	if !ok {
		*errors = append(*errors, ValidationError{
			Type:    AnomalyMissingField,
			Message: fmt.Sprintf("Missing required field %s (key %d)", name, key),
			Details: map[string]interface{}{"field": name, "key": key},
		})
	}
	return v, ok
}

func validateMobileAddress(addr uint64, errors *[]ValidationError) {
	if addr > dcc.MaxLongAddress {
		*errors = append(*errors, ValidationError{
			Type:    AnomalyInvalidAddress,
			Message: fmt.Sprintf("Invalid mobile address=%d (max %d)", addr, dcc.MaxLongAddress),
			Details: map[string]interface{}{"address": addr, "max": dcc.MaxLongAddress},
		})
	}
}

func validateSpeed(speed uint64, errors *[]ValidationError) {
	if speed > dcc.MaxSpeed {
		*errors = append(*errors, ValidationError{
			Type:    AnomalyInvalidSpeed,
			Message: fmt.Sprintf("Invalid speed=%d (max %d)", speed, dcc.MaxSpeed),
			Details: map[string]interface{}{"speed": speed, "max": dcc.MaxSpeed},
		})
	}
}

func validateReplyPolicy(m *Message, errors *[]ValidationError) {
	reply, ok := GetMapUint(m.PayloadMap(), KeyReply)
	if ok && reply > uint64(ReplyPolicyAtEnd) {
		*errors = append(*errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid reply policy=%d (max %d)", reply, ReplyPolicyAtEnd),
			Details: map[string]interface{}{"reply": reply, "max": uint64(ReplyPolicyAtEnd)},
		})
	}
}

// validateDriveCommand validates DRIVE_COMMAND fields
func validateDriveCommand(m *Message) []ValidationError {
	errors := []ValidationError{}

	if addr, ok := requireUint(m, KeyAddress, "address", &errors); ok {
		validateMobileAddress(addr, &errors)
	}
	if speed, ok := requireUint(m, KeyValue, "speed", &errors); ok {
		validateSpeed(speed, &errors)
	}
	if dir, ok := requireUint(m, KeyFlag, "direction", &errors); ok && dir > 1 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid direction=%d (0 reverse, 1 forward)", dir),
			Details: map[string]interface{}{"direction": dir},
		})
	}
	validateReplyPolicy(m, &errors)

	return errors
}

// validateAccessoryCommand validates ACCESSORY_COMMAND fields
func validateAccessoryCommand(m *Message) []ValidationError {
	errors := []ValidationError{}

	if addr, ok := requireUint(m, KeyAddress, "address", &errors); ok {
		if addr < dcc.MinAccessoryAddress || addr > dcc.MaxAccessoryAddress {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidAddress,
				Message: fmt.Sprintf("Invalid accessory address=%d (valid %d-%d)", addr, dcc.MinAccessoryAddress, dcc.MaxAccessoryAddress),
				Details: map[string]interface{}{"address": addr, "min": dcc.MinAccessoryAddress, "max": dcc.MaxAccessoryAddress},
			})
		}
	}
	if _, ok := GetMapBool(m.PayloadMap(), KeyValue); !ok {
		errors = append(errors, ValidationError{
			Type:    AnomalyMissingField,
			Message: "Missing required field state (key 1)",
			Details: map[string]interface{}{"field": "state", "key": KeyValue},
		})
	}
	validateReplyPolicy(m, &errors)

	return errors
}

// validateFunctionCommand validates FUNCTION_COMMAND fields
func validateFunctionCommand(m *Message) []ValidationError {
	errors := []ValidationError{}

	if addr, ok := requireUint(m, KeyAddress, "address", &errors); ok {
		validateMobileAddress(addr, &errors)
	}
	if fn, ok := requireUint(m, KeyValue, "function", &errors); ok && fn > dcc.MaxFunction {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidFunction,
			Message: fmt.Sprintf("Invalid function=%d (max F%d)", fn, dcc.MaxFunction),
			Details: map[string]interface{}{"function": fn, "max": dcc.MaxFunction},
		})
	}
	if _, ok := GetMapBool(m.PayloadMap(), KeyFlag); !ok {
		errors = append(errors, ValidationError{
			Type:    AnomalyMissingField,
			Message: "Missing required field on (key 2)",
			Details: map[string]interface{}{"field": "on", "key": KeyFlag},
		})
	}
	validateReplyPolicy(m, &errors)

	return errors
}

// validateStateCommand validates STATE_COMMAND fields
func validateStateCommand(m *Message) []ValidationError {
	errors := []ValidationError{}

	if addr, ok := requireUint(m, KeyAddress, "address", &errors); ok {
		validateMobileAddress(addr, &errors)
	}
	if speed, ok := requireUint(m, KeyValue, "speed", &errors); ok {
		validateSpeed(speed, &errors)
	}
	if fns, ok := requireUint(m, KeyFunctions, "functions", &errors); ok && fns > 0x1FFFFFFF {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid function bitmap=%#x (29 bits)", fns),
			Details: map[string]interface{}{"functions": fns},
		})
	}
	validateReplyPolicy(m, &errors)

	return errors
}
