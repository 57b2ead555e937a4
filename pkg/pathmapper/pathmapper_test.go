package pathmapper

import (
	"errors"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestToProviderPath(t *testing.T) {
	sp := "/mnt/snap1"

	toProvider := func(realPath string, mountPoint string) string {
		m, err := New(mountPoint, sp, []string{"/home/vagrant/snaptest"})
		assert.Ok(t, err)

		providerPath, err := m.ToProviderPath(realPath)
		assert.Ok(t, err)

		return providerPath
	}

	assert.EqualString(t, toProvider("/home/vagrant/snaptest", "/"), "/mnt/snap1/home/vagrant/snaptest")
	assert.EqualString(t, toProvider("/home/vagrant/snaptest", "/home"), "/mnt/snap1/vagrant/snaptest")
	assert.EqualString(t, toProvider("/home/vagrant/snaptest", "/home/vagrant"), "/mnt/snap1/snaptest")
	assert.EqualString(t, toProvider("/home/vagrant/snaptest", "/home/vagrant/snaptest"), "/mnt/snap1")
	assert.EqualString(t, toProvider("/home/vagrant/snaptest/a/b.txt", "/home"), "/mnt/snap1/vagrant/snaptest/a/b.txt")
}

func TestRoundTrip(t *testing.T) {
	m, err := New("/home", "/mnt/snap-abcd", []string{"/home/joonas/photos", "/home/joonas/docs"})
	assert.Ok(t, err)

	for _, realPath := range []string{
		"/home/joonas/photos",
		"/home/joonas/photos/2019/IMG_0001.jpg",
		"/home/joonas/docs/taxes/..hidden",
		"/home/joonas/docs/with space/file",
	} {
		providerPath, err := m.ToProviderPath(realPath)
		assert.Ok(t, err)

		back, err := m.ToRealPath(providerPath)
		assert.Ok(t, err)

		assert.EqualString(t, back, realPath)
	}
}

func TestOutOfScope(t *testing.T) {
	m, err := New("/home", "/mnt/snap-abcd", []string{"/home/joonas/photos"})
	assert.Ok(t, err)

	_, err = m.ToProviderPath("/home/joonas/photos2/x.jpg")
	assert.Assert(t, errors.Is(err, ErrOutOfScope))

	_, err = m.ToProviderPath("/etc/passwd")
	assert.Assert(t, errors.Is(err, ErrOutOfScope))

	// in provider space, but outside the configured root
	_, err = m.ToRealPath("/mnt/snap-abcd/joonas/docs")
	assert.Assert(t, errors.Is(err, ErrOutOfScope))

	// not in provider space at all
	_, err = m.ToRealPath("/mnt/other/joonas/photos")
	assert.Assert(t, errors.Is(err, ErrOutOfScope))
}

func TestRootOutsideVolume(t *testing.T) {
	_, err := New("/home", "/mnt/snap-abcd", []string{"/var/lib"})
	assert.EqualString(t, err.Error(), "root /var/lib not within /home")
}

func TestIdentity(t *testing.T) {
	m := Identity([]string{"/data"})

	assert.Assert(t, m.IsIdentity())

	providerPath, err := m.ToProviderPath("/data/a.txt")
	assert.Ok(t, err)
	assert.EqualString(t, providerPath, "/data/a.txt")

	_, err = m.ToProviderPath("/database")
	assert.Assert(t, errors.Is(err, ErrOutOfScope))
}

func TestRootForPrefersInnermost(t *testing.T) {
	m := Identity([]string{"/data", "/data/sub"})

	root, found := m.RootFor("/data/sub/x")
	assert.Assert(t, found)
	assert.EqualString(t, root, "/data/sub")

	root, _ = m.RootFor("/data/x")
	assert.EqualString(t, root, "/data")
}

func TestIsWithin(t *testing.T) {
	assert.Assert(t, IsWithin("/home", "/home/x"))
	assert.Assert(t, IsWithin("/home", "/home"))
	assert.Assert(t, !IsWithin("/home", "/home2"))
	assert.Assert(t, IsWithin("/", "/etc"))
}
