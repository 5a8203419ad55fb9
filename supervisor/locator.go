package supervisor

import (
	"os"
	"path/filepath"

	"github.com/guseggert/sidecar/internal/files"
)

// Locate finds the sidecar executable named name (plus the platform's executable suffix).
// It checks, in order, the resources directory next to the running binary, the running
// binary's own directory, then each of devDirs. If none exist it returns "resources/<exe>"
// so that Start can report exactly which path is missing.
func Locate(name string, devDirs []string) string {
	appDir := ""
	if self, err := os.Executable(); err == nil {
		appDir = filepath.Dir(self)
	}
	return locate(appDir, name+exeSuffix, devDirs)
}

func locate(appDir, exe string, devDirs []string) string {
	var candidates []string
	if appDir != "" {
		candidates = append(candidates,
			filepath.Join(appDir, "resources", exe),
			filepath.Join(appDir, exe),
		)
	}
	for _, d := range devDirs {
		candidates = append(candidates, filepath.Join(d, exe))
	}
	if p := files.FirstExisting(candidates...); p != "" {
		return p
	}
	return filepath.Join("resources", exe)
}
