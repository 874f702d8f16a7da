package pruning

import (
	"errors"
	"fmt"
)

// ErrConfigMismatch is returned when a per-layer list does not have one
// entry per hidden layer.
var ErrConfigMismatch = errors.New("config mismatch")

// MaxLayers bounds num_hidden_layers. Real decoders stay in the low hundreds.
const MaxLayers = 1 << 16

// MismatchError carries the offending values. It unwraps to ErrConfigMismatch.
type MismatchError struct {
	Field  string
	Values []int
	Want   int
}

func (e *MismatchError) Error() string {
	var msg string
	if validLayerCount(e.Want) {
		msg = fmt.Sprintf("length of %v is not equal to the number of hidden layers %d", e.Values, e.Want)
	} else {
		msg = fmt.Sprintf("number of hidden layers %d is outside [0, %d]", e.Want, MaxLayers)
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	return msg
}

func (e *MismatchError) Unwrap() error {
	return ErrConfigMismatch
}

// Broadcast expands v to exactly n entries. A scalar is repeated n times; a
// list must already hold n entries and is returned as is.
func Broadcast(n int, v LayerValue) ([]int, error) {
	if !validLayerCount(n) {
		return nil, &MismatchError{Values: v.list, Want: n}
	}
	if v.isList || !v.set {
		if len(v.list) != n {
			return nil, &MismatchError{Values: v.list, Want: n}
		}
		return v.list, nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = v.scalar
	}
	return out, nil
}

func validLayerCount(n int) bool {
	return n >= 0 && n <= MaxLayers
}
