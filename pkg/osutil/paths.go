/*
Copyright 2011 The Sentrybase Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package osutil provides operating system-specific path information:
// where the policy, database, and key files live when the caller
// doesn't say otherwise.
package osutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HomeDir returns the path to the user's home directory.
// It returns the empty string if the value isn't known.
func HomeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEPATH")
	}
	return os.Getenv("HOME")
}

// Username returns the current user's username, as
// reported by the relevant environment variable.
func Username() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("USERNAME")
	}
	return os.Getenv("USER")
}

// ConfigDir returns the directory policy and key files are looked up
// in by default. It is overridden by the SENTRYBASE_CONFIG_DIR
// environment variable.
func ConfigDir() string {
	if p := os.Getenv("SENTRYBASE_CONFIG_DIR"); p != "" {
		return p
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "Sentrybase")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sentrybase")
	}
	return filepath.Join(HomeDir(), ".config", "sentrybase")
}

// VarDir returns the directory the baseline database is kept in by
// default. It is overridden by the SENTRYBASE_VAR_DIR environment
// variable.
func VarDir() string {
	if p := os.Getenv("SENTRYBASE_VAR_DIR"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Sentrybase")
	case "darwin":
		return filepath.Join(HomeDir(), "Library", "Sentrybase")
	}
	return filepath.Join(HomeDir(), "var", "sentrybase")
}

// DefaultPolicyPath returns the policy file consulted when the caller
// names none.
func DefaultPolicyPath() string {
	return filepath.Join(ConfigDir(), "policy.pol")
}

// DefaultDatabasePath returns the baseline database file used when the
// caller names none.
func DefaultDatabasePath() string {
	return filepath.Join(VarDir(), "baseline.db")
}

// DefaultKeyPath returns the key file consulted when the caller names
// none.
func DefaultKeyPath() string {
	return filepath.Join(ConfigDir(), "site.key")
}

// FindInclude resolves a possibly-relative file reference, searching
// the following sequence of directories:
// 1. Working directory
// 2. ConfigDir
// 3. All directories in SENTRYBASE_INCLUDE_PATH (standard PATH form for OS)
func FindInclude(file string) (absPath string, err error) {
	// Try to open as absolute / relative to CWD
	_, err = os.Stat(file)
	if err == nil {
		return file, nil
	}
	if filepath.IsAbs(file) {
		// End of the line for absolute path
		return "", err
	}

	// Try the config dir
	configDir := ConfigDir()
	if _, err = os.Stat(filepath.Join(configDir, file)); err == nil {
		return filepath.Join(configDir, file), nil
	}

	// Finally, search SENTRYBASE_INCLUDE_PATH
	p := os.Getenv("SENTRYBASE_INCLUDE_PATH")
	for _, d := range strings.Split(p, string(filepath.ListSeparator)) {
		if d == "" {
			continue
		}
		if _, err = os.Stat(filepath.Join(d, file)); err == nil {
			return filepath.Join(d, file), nil
		}
	}

	return "", os.ErrNotExist
}
