// Package pathresolve implements the remote host's executable search:
// when the caller-supplied application name contains no directory
// separator, the daemon searches the PATH environment variable, split
// unconditionally on ';' and joined with '\', trying each element both
// as given and with a ".exe" suffix appended. This intentionally mimics
// a Windows PATH search regardless of the host the daemon actually runs
// on, since the search is performed on behalf of a Windows 9x remote.
package pathresolve

import (
	"os"
	"strings"
)

// Resolve searches PATH for program. It returns the resolved path and
// true if program should be left untouched — i.e. it already contains a
// directory separator, or it resolves as a file relative to the current
// directory — callers should spawn program verbatim in that case.
//
// If program has no directory separator and does not resolve locally,
// Resolve searches the PATH environment variable and returns the
// resolved absolute path and true on success, or ("", false) if no
// element of PATH yields an existing file.
func Resolve(program string) (resolved string, found bool) {
	if strings.ContainsRune(program, '\\') {
		return program, true
	}
	if fileExists(program) {
		return program, true
	}
	return search(program)
}

func search(program string) (string, bool) {
	path := os.Getenv("PATH")
	if path == "" {
		return "", false
	}
	for _, elem := range strings.Split(path, ";") {
		if elem == "" {
			continue
		}
		candidate := elem + "\\" + program
		if fileExists(candidate) {
			return candidate, true
		}
		withExt := candidate + ".exe"
		if fileExists(withExt) {
			return withExt, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
