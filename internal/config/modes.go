package config

import "strings"

// EngineMode selects how container lifecycle actions are executed.
// "auto" lets the capability probe pick compose-v2, legacy compose, or
// direct engine calls at startup.
type EngineMode string

const (
	EngineModeAuto    EngineMode = "auto"
	EngineModeCompose EngineMode = "compose"
	EngineModeDirect  EngineMode = "direct"
)

// NormalizeEngineMode converts arbitrary user input (case-insensitive) into a
// typed mode, returning empty string for unknown.
func NormalizeEngineMode(raw string) EngineMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(EngineModeAuto):
		return EngineModeAuto
	case string(EngineModeCompose):
		return EngineModeCompose
	case string(EngineModeDirect):
		return EngineModeDirect
	default:
		return ""
	}
}

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// NormalizeRetryBackoff converts arbitrary user input (case-insensitive) into
// a typed mode, returning empty string for unknown.
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RetryBackoffFixed):
		return RetryBackoffFixed
	case string(RetryBackoffLinear):
		return RetryBackoffLinear
	case string(RetryBackoffExponential):
		return RetryBackoffExponential
	default:
		return ""
	}
}
