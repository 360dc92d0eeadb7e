package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/NetPo4ki/isothread/config"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.lua")
	assert.NilError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestRunScriptWithThreads(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	script := writeScript(t, `
local out = ...
local th = pthread.create(function(a, b) return a + b end, 2, 3)
local ok, sum = th:join()
local f = assert(io.open(out, "w"))
f:write(tostring(ok), " ", tostring(sum), " ", arg[1])
f:close()
`)
	err := runScript(context.Background(), config.Default(), script, []string{out})
	assert.NilError(t, err)
	data, err := os.ReadFile(out)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "true 5 "+out)
}

func TestRunScriptError(t *testing.T) {
	script := writeScript(t, `error("bad script")`)
	err := runScript(context.Background(), config.Default(), script, nil)
	assert.Check(t, is.ErrorContains(err, "bad script"))
}

func TestRunScriptMaxThreads(t *testing.T) {
	cfg := config.Default()
	cfg.Threads.Max = 1
	script := writeScript(t, `
local mu = pthread.mutex()
mu:lock()
local a = pthread.create(function(c)
	local m = pthread.mutex_retain(c)
	m:lock()
	m:unlock()
	m:release()
end, mu:cookie())
local b, msg, code = pthread.create(function() end)
assert(b == nil and code == pthread.EAGAIN, "expected EAGAIN, got " .. tostring(msg))
mu:unlock()
assert(a:join())
`)
	assert.NilError(t, runScript(context.Background(), cfg, script, nil))
}

func TestFlagsOverrideConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "c.toml")
	assert.NilError(t, os.WriteFile(cfgPath, []byte("[threads]\nmax = 4\n[log]\nlevel = \"warn\"\n"), 0o600))

	cmd := newRunCommand()
	assert.NilError(t, cmd.ParseFlags([]string{"--config", cfgPath, "--max-threads", "2"}))
	var o runOptions
	o.configPath, _ = cmd.Flags().GetString("config")
	o.maxThreads, _ = cmd.Flags().GetInt("max-threads")
	cfg, err := o.load(cmd)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Threads.Max, 2)
	assert.Equal(t, cfg.Log.Level, "warn")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	assert.NilError(t, root.Execute())
	assert.Check(t, strings.HasPrefix(buf.String(), "isothread "))
}
