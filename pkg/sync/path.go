package sync

import (
	"path"
	"path/filepath"
	"strings"
)

// DocumentExt is the extension of synced local documents.
const DocumentExt = ".md"

// DocPath returns the canonical document path for a local file, e.g.
// `<root>/guides/setup.md` becomes `guides/setup`. It returns false for
// files outside the root and for files that aren't markdown documents.
func DocPath(root, localPath string) (string, bool) {
	rel, err := filepath.Rel(root, localPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	rel = filepath.ToSlash(rel)
	ext := path.Ext(rel)
	if !strings.EqualFold(ext, DocumentExt) {
		return "", false
	}
	return strings.TrimSuffix(rel, ext), true
}

// LocalPath is the inverse of DocPath.
func LocalPath(root, docPath string) string {
	return filepath.Join(root, filepath.FromSlash(docPath)+DocumentExt)
}

// CleanDocPath normalizes a remote page path so it can be compared with the
// output of DocPath.
func CleanDocPath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}
