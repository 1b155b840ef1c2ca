package config

import "time"

// Effective is a service's configuration after merging service-level
// overrides onto global defaults. It is resolved at the start of every poll
// cycle and never cached across a configuration reload, so document changes
// take effect without a process restart.
type Effective struct {
	Name      string
	Container string

	RepoURL   string
	Branch    string
	LocalPath string

	EngineMode  EngineMode
	ComposeDir  string
	ComposeFile string

	RestartCommand    string
	ValidationCommand string

	Interval     time.Duration
	HeartbeatURL string
	WebRoot      string
	LogTailLines int
	ErrorMarkers []string

	AutoFix        bool
	MonitorLogs    bool
	DisableRestart bool

	FixPermissions bool
	User           string
	Group          string
}

// Resolve merges a service spec over the document's global settings.
// Durations are assumed valid: Validate rejects unparsable values at load.
func (d *Document) Resolve(svc ServiceSpec) Effective {
	g := d.Global

	eff := Effective{
		Name:              svc.Name,
		Container:         svc.Container,
		RepoURL:           svc.RepoURL,
		Branch:            svc.Branch,
		LocalPath:         svc.LocalPath,
		EngineMode:        svc.EngineMode,
		ComposeDir:        svc.ComposeDir,
		ComposeFile:       svc.ComposeFile,
		RestartCommand:    svc.RestartCommand,
		ValidationCommand: svc.ValidationCommand,
		HeartbeatURL:      svc.HeartbeatURL,
		WebRoot:           svc.WebRoot,
		LogTailLines:      svc.LogTailLines,
		ErrorMarkers:      svc.ErrorMarkers,
	}

	if eff.Branch == "" {
		eff.Branch = g.DefaultBranch
	}
	if eff.EngineMode == "" {
		eff.EngineMode = g.EngineMode
	}
	eff.EngineMode = NormalizeEngineMode(string(eff.EngineMode))
	if eff.ComposeDir == "" {
		eff.ComposeDir = g.ComposeDir
	}
	if eff.ComposeDir == "" {
		eff.ComposeDir = svc.LocalPath
	}
	if eff.ComposeFile == "" {
		eff.ComposeFile = g.ComposeFile
	}
	if eff.WebRoot == "" {
		eff.WebRoot = g.WebRoot
	}
	if eff.LogTailLines <= 0 {
		eff.LogTailLines = g.LogTailLines
	}
	if len(eff.ErrorMarkers) == 0 {
		eff.ErrorMarkers = g.ErrorMarkers
	}

	interval := svc.Interval
	if interval == "" {
		interval = g.Interval
	}
	eff.Interval, _ = ParseDuration(interval)

	eff.AutoFix = boolOr(svc.AutoFix, g.AutoFix)
	eff.MonitorLogs = boolOr(svc.MonitorLogs, derefBool(g.MonitorLogs, true))
	// A restart disable at either level wins.
	eff.DisableRestart = g.DisableRestart || boolOr(svc.DisableRestart, false)

	eff.FixPermissions = derefBool(g.FixPermissions, true)
	eff.User = g.User
	eff.Group = g.Group
	if p := svc.Permissions; p != nil {
		if p.Fix != nil {
			eff.FixPermissions = *p.Fix
		}
		if p.User != "" {
			eff.User = p.User
		}
		if p.Group != "" {
			eff.Group = p.Group
		}
	}
	return eff
}

// GracePeriod returns the parsed startup grace period.
func (g GlobalSettings) GracePeriod() time.Duration {
	d, _ := ParseDuration(g.StartupGracePeriod)
	return d
}

// HeartbeatDeadline returns the parsed heartbeat timeout.
func (g GlobalSettings) HeartbeatDeadline() time.Duration {
	d, _ := ParseDuration(g.HeartbeatTimeout)
	return d
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func derefBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
