package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type poolThing struct {
	n     int
	dirty bool
}

func Test_ObjectPool_AcquireReleaseReuse(t *testing.T) {
	assert := assert.New(t)

	created := 0
	p := NewObjectPool[poolThing](
		func() *poolThing { created++; return &poolThing{} },
		func(pt *poolThing) { pt.dirty = false },
		nil,
		0,
		Grow,
	)

	obj, err := p.Acquire()
	require.NoError(t, err)
	obj.dirty = true
	assert.Equal(1, p.InUseCount())

	p.Release(obj)
	assert.Equal(0, p.InUseCount())
	assert.Equal(1, p.FreeCount())

	// reacquire: same object, reset first
	obj2, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(obj, obj2)
	assert.False(obj2.dirty, "reset must run on reuse")
	assert.Equal(1, created, "free-list objects must be reused, not recreated")
}

func Test_ObjectPool_ValidationDropsBadObjects(t *testing.T) {
	assert := assert.New(t)

	p := NewObjectPool[poolThing](
		func() *poolThing { return &poolThing{} },
		nil,
		func(pt *poolThing) bool { return pt.n < 10 },
		0,
		Grow,
	)

	obj, err := p.Acquire()
	require.NoError(t, err)
	obj.n = 99

	p.Release(obj)
	assert.Equal(0, p.FreeCount(), "an object failing validation is dropped, not reused")
}

func Test_ObjectPool_HighWaterFailPolicy(t *testing.T) {
	assert := assert.New(t)

	p := NewObjectPool[poolThing](
		func() *poolThing { return &poolThing{} },
		nil,
		nil,
		1,
		Fail,
	)

	_, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.Error(err, "acquire past the high-water mark must fail under the Fail policy")
}

func Test_ObjectPool_HighWaterGrowPolicy(t *testing.T) {
	assert := assert.New(t)

	p := NewObjectPool[poolThing](
		func() *poolThing { return &poolThing{} },
		nil,
		nil,
		1,
		Grow,
	)

	_, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.NoError(err, "the Grow policy creates past the high-water mark")
}

func Test_ObjectPool_DoubleReleasePanics(t *testing.T) {
	assert := assert.New(t)

	p := NewObjectPool[poolThing](
		func() *poolThing { return &poolThing{} },
		nil,
		nil,
		0,
		Grow,
	)

	obj, err := p.Acquire()
	require.NoError(t, err)
	p.Release(obj)

	assert.Panics(func() { p.Release(obj) })
}

func Test_StringInterner_StableDenseIDs(t *testing.T) {
	assert := assert.New(t)

	a := New(0, 0)
	si := NewStringInterner(a)

	id1, err := si.Intern("alpha")
	require.NoError(t, err)
	id2, err := si.Intern("beta")
	require.NoError(t, err)
	id1Again, err := si.Intern("alpha")
	require.NoError(t, err)

	assert.Equal(0, id1)
	assert.Equal(1, id2)
	assert.Equal(id1, id1Again, "byte-equal strings intern to the same id")

	assert.Equal("alpha", si.Resolve(id1))
	assert.Equal("beta", si.Resolve(id2))
	assert.Equal(2, si.Len())
}

func Test_StringInterner_Truncate(t *testing.T) {
	assert := assert.New(t)

	a := New(0, 0)
	si := NewStringInterner(a)

	id1, err := si.Intern("keep")
	require.NoError(t, err)
	_, err = si.Intern("drop")
	require.NoError(t, err)

	si.Truncate(1)

	assert.Equal(1, si.Len())
	assert.Equal("keep", si.Resolve(id1))

	// a re-intern of the dropped string mints a fresh id at the truncation
	// point
	id3, err := si.Intern("drop")
	require.NoError(t, err)
	assert.Equal(1, id3)
}
