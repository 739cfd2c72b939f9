// Package fsutil collects small filesystem predicates shared across
// components.
package fsutil

import "os"

// Exists reports whether pathname exists, of any kind.
func Exists(pathname string) bool {
	_, err := os.Stat(pathname)
	return !os.IsNotExist(err)
}

// IsDir reports whether pathname exists and is a directory.
func IsDir(pathname string) bool {
	st, err := os.Stat(pathname)
	return err == nil && st.Mode().IsDir()
}

// IsFile reports whether pathname exists and is a regular file.
func IsFile(pathname string) bool {
	st, err := os.Stat(pathname)
	return err == nil && st.Mode().IsRegular()
}

// IsLink reports whether pathname exists and is a symlink.
func IsLink(pathname string) bool {
	st, err := os.Lstat(pathname)
	return err == nil && st.Mode()&os.ModeSymlink != 0
}
