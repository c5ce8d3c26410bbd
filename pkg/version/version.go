package version

// Injected at build time via -ldflags "-X frameworks/bosun/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const product = "bosun"

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}

// GetShortCommit returns the first seven characters of the commit hash.
func GetShortCommit() string {
	if len(GitCommit) >= 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return product + "/" + Version + " (+" + GetShortCommit() + ")"
}
