// Package version хранит сведения о сборке storefront.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Заполняются через -ldflags "-X .../internal/version.version=...".
// Если ldflags не заданы, коммит и дата берутся из VCS-меток сборки.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var loadBuildInfo = sync.OnceFunc(func() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "unknown" && s.Value != "" {
				commit = s.Value
			}
		case "vcs.time":
			if date == "unknown" && s.Value != "" {
				date = s.Value
			}
		}
	}
})

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) {
	loadBuildInfo()
	return version, commit, date
}

func GetVersion() string {
	v, _, _ := Info()
	return v
}

func GetCommit() string {
	_, c, _ := Info()
	return c
}

func GetDate() string {
	_, _, d := Info()
	return d
}

func String() string {
	v, c, d := Info()
	return fmt.Sprintf("storefront version=%s commit=%s date=%s", v, c, d)
}
