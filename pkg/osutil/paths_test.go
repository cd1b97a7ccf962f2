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

package osutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Creates a file with the content "test" at path
func createTestInclude(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
		t.Fatalf("couldn't create test include file: %v", err)
	}
}

// Resolves path with FindInclude and checks that it contains "test".
func checkOpen(t *testing.T, path string) {
	t.Helper()
	found, err := FindInclude(path)
	if err != nil {
		t.Errorf("failed to find %v", path)
		return
	}
	d, err := os.ReadFile(found)
	if err != nil {
		t.Errorf("failed to open %v", path)
		return
	}
	if string(d) != "test" {
		t.Errorf("wrong include content: %q", d)
	}
}

func TestFindIncludeNoFile(t *testing.T) {
	t.Setenv("SENTRYBASE_CONFIG_DIR", filepath.Join(os.TempDir(), "/x/y/z/not-exist"))

	if _, err := FindInclude("this_policy_doesnt_exist.pol"); err == nil {
		t.Errorf("successfully resolved an include which doesn't exist")
	}
}

func TestFindIncludeCWD(t *testing.T) {
	const name = "TestFindIncludeCWD.pol"
	createTestInclude(t, name)
	defer os.Remove(name)

	t.Setenv("SENTRYBASE_CONFIG_DIR", filepath.Join(os.TempDir(), "/x/y/z/not-exist"))
	checkOpen(t, name)
}

func TestFindIncludeConfigDir(t *testing.T) {
	const name = "TestFindIncludeConfigDir.pol"
	dir := t.TempDir()
	createTestInclude(t, filepath.Join(dir, name))
	t.Setenv("SENTRYBASE_CONFIG_DIR", dir)

	checkOpen(t, name)
}

func TestFindIncludePath(t *testing.T) {
	const name = "TestFindIncludePath.pol"
	dir := t.TempDir()
	createTestInclude(t, filepath.Join(dir, name))

	t.Setenv("SENTRYBASE_CONFIG_DIR", filepath.Join(os.TempDir(), "/x/y/z/not-exist"))

	sep := string(filepath.ListSeparator)
	for _, includePath := range []string{
		dir,
		"/not/a/config/dir" + sep + dir,
		"/not/a/config/dir" + sep + dir + sep + "/another/fake/dir",
	} {
		t.Setenv("SENTRYBASE_INCLUDE_PATH", includePath)
		checkOpen(t, name)
	}
}

func TestConfigDirOverride(t *testing.T) {
	t.Setenv("SENTRYBASE_CONFIG_DIR", "/custom/config")
	if got := ConfigDir(); got != "/custom/config" {
		t.Errorf("ConfigDir() = %q, want /custom/config", got)
	}
	if got := DefaultPolicyPath(); got != filepath.Join("/custom/config", "policy.pol") {
		t.Errorf("DefaultPolicyPath() = %q", got)
	}
}

func TestVarDirOverride(t *testing.T) {
	t.Setenv("SENTRYBASE_VAR_DIR", "/custom/var")
	if got := DefaultDatabasePath(); got != filepath.Join("/custom/var", "baseline.db") {
		t.Errorf("DefaultDatabasePath() = %q", got)
	}
}
