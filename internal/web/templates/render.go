// Package templates holds the templ components of the web UI.
//
// Components are written in the .templ files next to this one; the
// _templ.go files are generated from them with `templ generate`.
package templates

import (
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/JonMunkholm/csvsplit/internal/core"
)

// HomeData feeds the upload page.
type HomeData struct {
	Runs           []core.Run
	HistoryEnabled bool
	MaxFileSize    int64
	ThresholdBytes int64
	RowsPerPart    int
}

// SessionData feeds the session page.
type SessionData struct {
	Info            core.SessionInfo
	DefaultBaseName string
}

// SessionURL returns the page of a session.
func SessionURL(id string) string {
	return "/sessions/" + url.PathEscape(id)
}

// FileURL returns the download URL of an output file.
func FileURL(sessionID, name string) string {
	return SessionURL(sessionID) + "/files/" + url.PathEscape(name)
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

func startedAt(run core.Run) string {
	return run.StartedAt.Local().Format("2006-01-02 15:04")
}

func elapsed(run core.Run) string {
	return run.Duration.Round(10 * time.Millisecond).String()
}

// memberChecked preselects the chosen member, or the first one.
func memberChecked(info core.SessionInfo, i int, name string) bool {
	return name == info.Member || (info.Member == "" && i == 0)
}

// columnChecked keeps the last run's selection; before any run every
// column is selected.
func columnChecked(info core.SessionInfo, col string) bool {
	if info.Result != nil {
		return lo.Contains(info.Result.Columns, col)
	}
	return true
}

// baseNameValue prefills the output name with the last run's.
func baseNameValue(info core.SessionInfo, defaultBase string) string {
	if info.Result != nil {
		return info.Result.BaseName
	}
	return defaultBase
}
