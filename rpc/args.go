package rpc

import (
	"fmt"
)

// StringArg returns args[i] as a string.
func StringArg(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d: %w", i, ErrBadArguments)
	}

	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d is %T, not a string: %w", i, args[i], ErrBadArguments)
	}

	return s, nil
}
