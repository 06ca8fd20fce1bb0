package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

type typedError interface {
	ErrorType() string
}

// ErrorTypeName names an error for failure messages. An error in the chain
// implementing ErrorType() names itself; otherwise the root cause's Go type
// is used without package or pointer, and anonymous errors are "Error".
func ErrorTypeName(err error) string {
	if err == nil {
		return ""
	}
	var te typedError
	if errors.As(err, &te) {
		if name := te.ErrorType(); name != "" {
			return name
		}
	}

	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}

	name := strings.TrimPrefix(fmt.Sprintf("%T", root), "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "errorString", "wrapError", "wrapErrors", "joinError", "":
		return "Error"
	}
	return name
}
