package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCheckCmd(t *testing.T, args ...string) (checkOutput, error) {
	t.Helper()

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"check"}, args...))

	err := cmd.Execute()

	var result checkOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	return result, err
}

func TestCheck_AllowedRequest(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "rules.json", `{"suppression_paths": ["password"]}`)
	body := writeFile(t, dir, "body.json", `{"user": "x"}`)

	result, err := runCheckCmd(t, "--rules", rules, "--body", body)

	require.NoError(t, err)
	assert.Equal(t, "allow", result.Action)
	assert.Empty(t, result.Reason)
}

func TestCheck_SuppressedBodyPath(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "rules.json", `{"suppression_paths": ["password"]}`)
	body := writeFile(t, dir, "body.json", `{"user": "x", "password": "y"}`)

	result, err := runCheckCmd(t, "--rules", rules, "--body", body)

	assert.Error(t, err)
	assert.Equal(t, "deny", result.Action)
	assert.Equal(t, "body_path_suppressed", result.Reason)
	assert.Equal(t, "methylated", result.DefenseType)
	assert.Equal(t, "password", result.Subject)
}

func TestCheck_SuppressedHeader(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "rules.json", `{"suppression_paths": ["x-secret"]}`)

	result, err := runCheckCmd(t, "--rules", rules, "--header", "X-Secret: 1")

	assert.Error(t, err)
	assert.Equal(t, "deny", result.Action)
	assert.Equal(t, "header_suppressed", result.Reason)
	assert.Equal(t, "methylated-header", result.DefenseType)
}

func TestCheck_AllowListRejection(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "rules.json", `{"allow_paths": ["user"]}`)
	body := writeFile(t, dir, "body.json", `{"user": "x", "role": "admin"}`)

	result, err := runCheckCmd(t, "--rules", rules, "--body", body)

	assert.Error(t, err)
	assert.Equal(t, "deny", result.Action)
	assert.Equal(t, "body_path_not_allowed", result.Reason)
	assert.Equal(t, "antigen-rejected", result.DefenseType)
	assert.Equal(t, "role", result.Subject)
}

func TestCheck_InvalidHeaderFlag(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "rules.json", `{}`)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"check", "--rules", rules, "--header", "nocolon"})

	assert.Error(t, cmd.Execute())
}
