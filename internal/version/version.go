// Package version holds build metadata, overridden with -ldflags -X.
package version

var (
	AppName   = "unmute-bot"
	Version   = "dev"
	GitCommit = "none"
)

func String() string {
	return AppName + " " + Version + " (" + GitCommit + ")"
}
