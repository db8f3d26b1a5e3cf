package op_service

import (
	"strings"
)

// PrefixEnvVar adds the given prefix to the env var name,
// e.g. prefix "OP_TELEPORT" and name "LOG_LEVEL" become "OP_TELEPORT_LOG_LEVEL".
func PrefixEnvVar(prefix, suffix string) []string {
	return []string{prefix + "_" + suffix}
}

// ValidateEnvVars logs a warning for every env var with the given prefix that is not known by any flag.
func ValidateEnvVars(prefix string, flagEnvVars []string, environ []string) []string {
	known := make(map[string]struct{}, len(flagEnvVars))
	for _, v := range flagEnvVars {
		known[v] = struct{}{}
	}
	var unknown []string
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, prefix+"_") {
			continue
		}
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown
}
