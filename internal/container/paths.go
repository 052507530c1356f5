package container

import (
	"regexp"
	"strings"
)

var driveLetterRe = regexp.MustCompile(`^([A-Za-z]):[/\\]`)

// ToContainerPath canonicalizes a host path for use on the container side
// of the boundary. Windows-style paths are rewritten to the container's
// convention: backslashes become slashes and a drive letter prefix becomes
// a lowercase root directory ("C:\work\out" -> "/c/work/out").
//
// Every host path crossing the container boundary goes through this one
// function; call sites must not do their own string surgery.
func ToContainerPath(hostPath string) string {
	p := strings.ReplaceAll(hostPath, `\`, "/")
	if m := driveLetterRe.FindStringSubmatch(p); m != nil {
		p = "/" + strings.ToLower(m[1]) + p[2:]
	}
	return p
}
