// Package version carries build metadata stamped in with -ldflags -X.
package version

import "runtime/debug"

var (
	AppName    = "portfolio"
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	AppName    string `json:"app_name"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Short is version plus the abbreviated commit, e.g. v1.2.0+3f9a1c2, with -dirty when modified
func (i Info) Short() string {
	s := i.Version
	if c := i.Commit; c != "" && c != "none" {
		if len(c) > 7 {
			c = c[:7]
		}
		s += "+" + c
	}
	if i.VCSDirty != nil && *i.VCSDirty {
		s += "-dirty"
	}
	return s
}

// Get merges the ldflags values with whatever the go toolchain embedded
func Get() Info {
	out := Info{
		AppName:    AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		out.GoVersion = bi.GoVersion
		applyBuildSettings(&out, bi.Settings)
	}
	return out
}

// applyBuildSettings fills unset fields from vcs.* settings, ldflags win
func applyBuildSettings(out *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" && s.Value != "" {
				out.BuildDate = s.Value
			}
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
		case "vcs.modified":
			switch s.Value {
			case "true":
				t := true
				out.VCSDirty = &t
			case "false":
				f := false
				out.VCSDirty = &f
			}
		}
	}
}
