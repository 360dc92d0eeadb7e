package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/NetPo4ki/isothread/attr"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.NilError(t, err)
	assert.DeepEqual(t, cfg, Default())
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "isothread.toml")
	data := `
[log]
level = "debug"
development = true

[threads]
max = 8

[threads.defaults]
stack_size = 65536
sched_policy = "rr"
inherit_sched = "explicit"
sched_priority = 10
cpus = [0, 1]

[isolate]
call_stack_size = 512
registry_size = 2048

[metrics]
enabled = true
listen = ":9999"
`
	assert.NilError(t, os.WriteFile(path, []byte(data), 0o600))
	cfg, err := Load(path)
	assert.NilError(t, err)

	assert.Equal(t, cfg.Log.Level, "debug")
	assert.Check(t, cfg.Log.Development)
	assert.Equal(t, cfg.Threads.Max, 8)
	assert.Equal(t, cfg.Isolate.IsolateOptions().CallStackSize, 512)
	assert.Equal(t, cfg.Isolate.IsolateOptions().RegistrySize, 2048)
	assert.Check(t, cfg.Metrics.Enabled)
	assert.Equal(t, cfg.Metrics.Listen, ":9999")
	assert.Equal(t, cfg.Metrics.Namespace, "isothread", "unset keys keep defaults")

	a, err := cfg.Threads.Defaults.Attr()
	assert.NilError(t, err)
	assert.Equal(t, *a.StackSize, 65536)
	assert.Equal(t, *a.SchedPolicy, attr.PolicyRR)
	assert.Check(t, a.ExplicitSched())
	assert.DeepEqual(t, a.CPUs, []int{0, 1})
	assert.Check(t, a.GuardSize == nil)
}

func TestEmptyDefaultsYieldNil(t *testing.T) {
	t.Parallel()
	a, err := DefaultsCfg{}.Attr()
	assert.NilError(t, err)
	assert.Check(t, a == nil)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"negative max":   "[threads]\nmax = -1\n",
		"bad policy":     "[threads.defaults]\nsched_policy = \"batch\"\n",
		"small stack":    "[threads.defaults]\nstack_size = 16\n",
		"malformed toml": "[log\nlevel = 1\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := Parse([]byte(data), Default())
			assert.Check(t, err != nil)
		})
	}
}

func TestParseErrorNamesField(t *testing.T) {
	t.Parallel()
	err := Parse([]byte("[threads.defaults]\nsched_policy = \"batch\"\n"), Default())
	assert.Check(t, is.ErrorContains(err, "schedpolicy"))
}
