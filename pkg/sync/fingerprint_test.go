package sync

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFile(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/root/a.md", []byte("# Title\n"), 0644))

	first, err := HashFile(memFs, "/root/a.md", DefaultLargeFileThreshold)
	assert.NoError(t, err)

	// Fingerprinting an untouched file is stable.
	second, err := HashFile(memFs, "/root/a.md", DefaultLargeFileThreshold)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, HashContent([]byte("# Title\n")), first)

	require.NoError(t, afero.WriteFile(memFs, "/root/a.md", []byte("# Other\n"), 0644))
	changed, err := HashFile(memFs, "/root/a.md", DefaultLargeFileThreshold)
	assert.NoError(t, err)
	assert.NotEqual(t, first, changed)

	_, err = HashFile(memFs, "/root/missing.md", DefaultLargeFileThreshold)
	assert.Error(t, err)
}

func TestHashFileSampled(t *testing.T) {
	memFs := afero.NewMemMapFs()
	threshold := int64(1024)
	content := bytes.Repeat([]byte("abcdefgh"), 64*1024)
	require.NoError(t, afero.WriteFile(memFs, "/big", content, 0644))

	mtime := time.Unix(1000, 0)
	require.NoError(t, memFs.Chtimes("/big", mtime, mtime))

	sampled, err := HashFile(memFs, "/big", threshold)
	assert.NoError(t, err)
	assert.NotEqual(t, HashContent(content), sampled)

	again, err := HashFile(memFs, "/big", threshold)
	assert.NoError(t, err)
	assert.Equal(t, sampled, again)

	// A change in the middle sample is noticed.
	content[len(content)/2] = 'X'
	require.NoError(t, afero.WriteFile(memFs, "/big", content, 0644))
	require.NoError(t, memFs.Chtimes("/big", mtime, mtime))
	middle, err := HashFile(memFs, "/big", threshold)
	assert.NoError(t, err)
	assert.NotEqual(t, sampled, middle)

	// Disabling the threshold hashes everything.
	full, err := HashFile(memFs, "/big", 0)
	assert.NoError(t, err)
	assert.Equal(t, HashContent(content), full)
}

func TestDocPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expPath  string
		expMatch bool
	}{
		{name: "top level", path: "/root/a.md", expPath: "a", expMatch: true},
		{name: "nested", path: "/root/guides/setup.md", expPath: "guides/setup", expMatch: true},
		{name: "upper case extension", path: "/root/README.MD", expPath: "README", expMatch: true},
		{name: "not markdown", path: "/root/image.png"},
		{name: "outside root", path: "/other/a.md"},
		{name: "root itself", path: "/root"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path, ok := DocPath("/root", test.path)
			assert.Equal(t, test.expMatch, ok)
			assert.Equal(t, test.expPath, path)
		})
	}

	assert.Equal(t, "/root/guides/setup.md", LocalPath("/root", "guides/setup"))
	assert.Equal(t, "guides/setup", CleanDocPath("/guides//setup/"))
	assert.Equal(t, "a", CleanDocPath("a"))
}
