package lo

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSha1(t *testing.T) {
	assert.True(t, ValidSha1("ca8370ba0f0d15c56b0fad31e3e7b4a9c3aa7107"))
	assert.False(t, ValidSha1("not-a-hash"))
	assert.False(t, ValidSha1("ca8370ba0f0d15c56b0fad31e3e7b4a9c3aa710")) // 39 chars
	assert.False(t, ValidSha1("CA8370BA0F0D15C56B0FAD31E3E7B4A9C3AA7107")) // uppercase
}

func TestValidSha2(t *testing.T) {
	valid := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	assert.True(t, ValidSha2(valid))
	assert.False(t, ValidSha2(valid[:63]))
	assert.False(t, ValidSha2("ghij"+valid[4:]))
}

func TestValidate(t *testing.T) {
	goodSha1 := "8bacf78793c3a2ee791fb05bd8ba9b67aa4ae862"

	require.NoError(t, Validate(goodSha1, true, 125))
	require.NoError(t, Validate(goodSha1, true, 0))

	err := Validate("too-short", true, 125)
	require.Error(t, err)

	err = Validate(goodSha1, false, 125)
	require.Error(t, err)

	err = Validate(goodSha1, true, -1)
	require.Error(t, err)
}

func TestPayloadReleaseInMemory(t *testing.T) {
	p := &Payload{Kind: PayloadInMemory, Bytes: []byte("hello")}
	p.Release()
	assert.Equal(t, PayloadNone, p.Kind)
	assert.Nil(t, p.Bytes)

	// idempotent
	p.Release()
	assert.Equal(t, PayloadNone, p.Kind)
}

func TestPayloadReleaseOnDisk(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "lo-migrate-test-*")
	require.NoError(t, err)
	path := f.Name()

	p := &Payload{Kind: PayloadOnDisk, Path: path, File: f}
	p.Release()

	assert.Equal(t, PayloadNone, p.Kind)
	assert.Empty(t, p.Path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "scratch file must be unlinked on release")
}

func TestDescriptorReleaseNilSafe(t *testing.T) {
	var d *Descriptor
	d.Release() // must not panic

	d2 := &Descriptor{}
	d2.Release() // no payload staged, still safe
}
