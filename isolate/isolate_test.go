package isolate

import (
	"context"
	"io"
	"testing"

	lua "github.com/yuin/gopher-lua"
	"gotest.tools/v3/assert"
)

type recorder struct {
	name string
	log  *[]string
}

func (r *recorder) Close() error {
	*r.log = append(*r.log, r.name)
	return nil
}

func TestNewAndFrom(t *testing.T) {
	iso, err := New(Options{})
	assert.NilError(t, err)
	defer iso.Close()

	got, ok := From(iso.State())
	assert.Check(t, ok)
	assert.Equal(t, got, iso)
	assert.Check(t, iso.ID() != 0)
	assert.Equal(t, iso.Context(), context.Background())

	plain := lua.NewState()
	defer plain.Close()
	_, ok = From(plain)
	assert.Check(t, !ok)
}

func TestSetContext(t *testing.T) {
	iso, err := New(Options{})
	assert.NilError(t, err)
	defer iso.Close()

	ctx, cancel := context.WithCancel(context.Background())
	iso.SetContext(ctx)
	cancel()
	assert.Equal(t, iso.Context().Err(), context.Canceled)
	assert.Check(t, iso.State().Context() == nil, "the interpreter loop stays unbound")
}

func TestIDsAreUnique(t *testing.T) {
	a, err := New(Options{})
	assert.NilError(t, err)
	defer a.Close()
	b, err := New(Options{})
	assert.NilError(t, err)
	defer b.Close()
	assert.Check(t, a.ID() != b.ID())
}

func TestCloseReleasesOwnedAndRunsHooks(t *testing.T) {
	before := Live()
	iso, err := New(Options{})
	assert.NilError(t, err)
	assert.Equal(t, Live(), before+1)

	var order []string
	var dropped io.Closer = &recorder{name: "dropped", log: &order}
	iso.Own(&recorder{name: "first", log: &order})
	iso.Own(dropped)
	iso.Own(&recorder{name: "second", log: &order})
	iso.Disown(dropped)
	assert.Equal(t, iso.Owned(), 2)
	iso.OnExit(func() { order = append(order, "hook") })

	iso.Close()
	iso.Close()
	assert.DeepEqual(t, order, []string{"hook", "second", "first"})
	assert.Check(t, iso.Closed())
	assert.Equal(t, Live(), before)
}

func TestLocals(t *testing.T) {
	iso, err := New(Options{})
	assert.NilError(t, err)
	type key struct{}
	iso.SetLocal(key{}, 42)
	assert.Equal(t, iso.Local(key{}), 42)
	iso.Close()
	assert.Equal(t, iso.Local(key{}), nil)
	iso.SetLocal(key{}, 1)
}

func TestSkipOpenLibs(t *testing.T) {
	iso, err := New(Options{SkipOpenLibs: true})
	assert.NilError(t, err)
	defer iso.Close()
	assert.Equal(t, iso.State().GetGlobal("string"), lua.LValue(lua.LNil))
}
