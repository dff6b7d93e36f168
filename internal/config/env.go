package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ConfigEnv is the environment config expressions are evaluated in
type ConfigEnv struct {
	HostOS   string            `expr:"host_os"`
	HostArch string            `expr:"host_arch"`
	Environ  map[string]string `expr:"environ"`
	Profile  string            `expr:"profile"`
	basedir  string
}

func NewConfigEnv(basedir, profile string) ConfigEnv {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return ConfigEnv{
		HostOS:   runtime.GOOS,
		HostArch: runtime.GOARCH,
		Environ:  environ,
		Profile:  profile,
		basedir:  basedir,
	}
}

// Exists reports whether path exists, relative paths are taken from the config directory
func (env ConfigEnv) Exists(path string) bool {
	if !filepath.IsAbs(path) {
		path = filepath.Join(env.basedir, path)
	}
	_, err := os.Stat(path)
	return err == nil
}
