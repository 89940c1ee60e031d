package shivai

import (
	"fmt"
	"runtime"
)

const clientVersion = "0.1.0"

// deviceClass is the coarse device hint passed to the token endpoint.
func deviceClass() string {
	switch runtime.GOOS {
	case "android", "ios":
		return "mobile"
	default:
		return "desktop"
	}
}

func userAgent() string {
	return fmt.Sprintf("shivai-calling-go/%s (%s; %s)", clientVersion, runtime.GOOS, runtime.GOARCH)
}
