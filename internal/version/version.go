// Package version хранит сведения о сборке, проставляемые через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарь.
type Build struct {
	Version string
	Commit  string
	Date    string
}

func init() {
	// go install без ldflags: берём то, что записал тулчейн
	if commit != "unknown" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		applyBuildInfo(info)
	}
}

func applyBuildInfo(info *debug.BuildInfo) {
	if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	for _, setting := range info.Settings {
		if setting.Value == "" {
			continue
		}
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
		case "vcs.time":
			date = setting.Value
		}
	}
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// ShortCommit — первые 12 символов хеша, как в логах и User-Agent.
func (b Build) ShortCommit() string {
	if len(b.Commit) > 12 {
		return b.Commit[:12]
	}
	return b.Commit
}

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// Fields — поля для стартовой записи в лог.
func (b Build) Fields() map[string]any {
	return map[string]any{
		"version": b.Version,
		"commit":  b.ShortCommit(),
		"built":   b.Date,
	}
}

// UserAgent подставляется в исходящие запросы к провайдеру печати.
func UserAgent() string {
	b := Current()
	return fmt.Sprintf("printshop/%s (+%s)", b.Version, b.ShortCommit())
}
