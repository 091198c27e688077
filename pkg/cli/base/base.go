// Package base declares the guapow_opt daemon's kingpin application
// identity, a small leaf package imported by the cli package.
package base

import "github.com/alecthomas/kingpin/v2"

// AppName is the kingpin app name for the optimizer daemon.
const AppName = "guapow_opt"

// App is the `guapow_opt` CLI app.
var App = *kingpin.New( //nolint:gochecknoglobals
	AppName,
	"On-demand performance optimizer daemon for Linux applications.",
)
