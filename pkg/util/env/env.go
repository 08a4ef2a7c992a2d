package env

import (
	"os"
	"strconv"
)

// GetEnv returns the value of the environment variable key, or fallback if it is not set.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvBool is GetEnv for booleans. Unset or unparsable values return fallback.
func GetEnvBool(key string, fallback bool) bool {
	result, err := strconv.ParseBool(GetEnv(key, ""))
	if err != nil {
		return fallback
	}

	return result
}
