// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package resolve

// Result codes of an Outcome.
const (
	SuccessResult = 0
	FailureResult = 1
)

// ResultDataKey is the single payload key of an Outcome, carrying either the resolved address
// text or the failure message.
const ResultDataKey = "whereami.RESULT_DATA_KEY"

// Reason tells why an address could not be resolved.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNoNetwork
	ReasonInvalidCoordinate
	ReasonNotFound
)

func (r Reason) String() string {
	switch r {
	case ReasonNoNetwork:
		return "no-network"
	case ReasonInvalidCoordinate:
		return "invalid-coordinate"
	case ReasonNotFound:
		return "not-found"
	default:
		return "none"
	}
}

// Message is the user-visible failure message of r.
func (r Reason) Message() string {
	switch r {
	case ReasonNoNetwork:
		return "Geocoding service not available"
	case ReasonInvalidCoordinate:
		return "Invalid latitude or longitude used"
	case ReasonNotFound:
		return "No address found"
	default:
		return ""
	}
}

// Outcome is the result of one address resolution.
type Outcome struct {
	Code    int
	Payload map[string]string
	Reason  Reason
}

func resolved(text string) Outcome {
	return Outcome{
		Code:    SuccessResult,
		Payload: map[string]string{ResultDataKey: text},
	}
}

func failed(reason Reason) Outcome {
	return Outcome{
		Code:    FailureResult,
		Payload: map[string]string{ResultDataKey: reason.Message()},
		Reason:  reason,
	}
}

// Resolved reports whether the outcome carries an address.
func (o Outcome) Resolved() bool {
	return o.Code == SuccessResult
}

// Text returns the payload: the address lines on success, the failure message otherwise.
func (o Outcome) Text() string {
	return o.Payload[ResultDataKey]
}

func (o Outcome) label() string {
	if o.Resolved() {
		return "resolved"
	}
	return o.Reason.String()
}
