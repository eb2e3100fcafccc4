package commands

import (
	"strings"

	"github.com/colonyops/inbox/internal/core/notification"
)

// WantsJSON reports whether args ask a command for JSON output, in which
// case a failure is reported as a JSON error document too.
func WantsJSON(args []string) bool {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		switch name {
		case "json":
			if !hasValue || value == "true" {
				return true
			}
		case "format":
			if hasValue {
				if value == "json" {
					return true
				}
			} else if i+1 < len(args) && args[i+1] == "json" {
				return true
			}
		}
	}
	return false
}

// ErrorData classifies err for a JSON error document.
func ErrorData(err error) map[string]any {
	data := map[string]any{}
	code := notification.StatusCode(err)
	switch {
	case code != 0:
		data["kind"] = "http"
		data["status"] = code
	case notification.IsNetwork(err):
		data["kind"] = "network"
	case notification.IsParse(err):
		data["kind"] = "parse"
	}
	if len(data) == 0 {
		return nil
	}
	return data
}
