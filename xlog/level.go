package xlog

import "strings"

// ParseLevel parses a comma-separated list of level names into a LogLevel
// mask, exactly the way the host stack's confLoadLogLevelKey parses its
// "main-log"/"console-log" keys. Ported 1:1, with "trace-ipp"/"trace-escl"/
// "trace-http" replaced by "trace-txn"/"trace-policy" (this core has no
// IPP, eSCL or HTTP traffic) and "trace-usb" kept under its original name.
func ParseLevel(s string) (LogLevel, error) {
	var mask LogLevel

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "error":
			mask |= LogError
		case "info":
			mask |= LogInfo | LogError
		case "debug":
			mask |= LogDebug | LogInfo | LogError
		case "trace-usb":
			mask |= LogTraceUSB | LogDebug | LogInfo | LogError
		case "trace-txn":
			mask |= LogTraceTxn | LogDebug | LogInfo | LogError
		case "trace-policy":
			mask |= LogTracePolicy | LogDebug | LogInfo | LogError
		case "all", "trace-all":
			mask |= LogAll
		default:
			return 0, &unknownLevelError{part}
		}
	}

	return mask, nil
}

type unknownLevelError struct {
	name string
}

func (e *unknownLevelError) Error() string {
	return "invalid log level \"" + e.name + "\""
}
