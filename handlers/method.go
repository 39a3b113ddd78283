package handlers

import (
	"fmt"
	"strings"
)

// Method selects how a defect is resolved. The zero value deletes the vertex.
type Method int

const (
	MethodDeleteNode Method = iota
	MethodNoChange
)

var methodNames = []string{
	MethodDeleteNode: "Delete node with small angle",
	MethodNoChange:   "No action",
}

var methodAliases = map[string]Method{
	"delete-node": MethodDeleteNode,
	"delete":      MethodDeleteNode,
	"no-change":   MethodNoChange,
	"none":        MethodNoChange,
}

func (m Method) String() string {
	if m >= 0 && int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ResolutionMethods lists the display names, indexed by Method.
func ResolutionMethods() []string {
	return append([]string(nil), methodNames...)
}

// ParseMethod accepts a display name, a short alias or an index.
func ParseMethod(s string) (Method, error) {
	s = strings.TrimSpace(s)
	for i, name := range methodNames {
		if strings.EqualFold(s, name) {
			return Method(i), nil
		}
	}
	if m, ok := methodAliases[strings.ToLower(s)]; ok {
		return m, nil
	}
	var idx int
	if _, err := fmt.Sscanf(s, "%d", &idx); err == nil && fmt.Sprint(idx) == s {
		return Method(idx), nil
	}
	return -1, fmt.Errorf("unknown method %q", s)
}
