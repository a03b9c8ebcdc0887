// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import "os"

// CredentialStore resolves an API credential for a backend family. The
// dispatch layer never persists credentials; it only looks them up when a
// config omits one, and when failover needs to know which candidates are
// usable.
type CredentialStore interface {
	// Lookup returns the credential for family and whether one exists.
	Lookup(family Family) (string, bool)
}

// Environment variable names for each family's credential, following each
// vendor's documented convention.
var credentialEnvVars = map[Family]string{
	FamilyAnthropic: "ANTHROPIC_API_KEY",
	FamilyOpenAI:    "OPENAI_API_KEY",
	FamilyGemini:    "GEMINI_API_KEY",
	FamilyXAI:       "XAI_API_KEY",
}

// EnvCredentials resolves credentials from process environment variables.
// Local backends (ollama) need no credential and always resolve.
type EnvCredentials struct{}

// Lookup implements CredentialStore.
func (EnvCredentials) Lookup(family Family) (string, bool) {
	envVar, ok := credentialEnvVars[family]
	if !ok {
		// No credential scheme for this family; usable as-is.
		return "", true
	}
	key := os.Getenv(envVar)
	return key, key != ""
}

// StaticCredentials is a fixed credential map, useful for tests and embedded
// configuration.
type StaticCredentials map[Family]string

// Lookup implements CredentialStore.
func (s StaticCredentials) Lookup(family Family) (string, bool) {
	if _, scheme := credentialEnvVars[family]; !scheme {
		return "", true
	}
	key, ok := s[family]
	return key, ok && key != ""
}
