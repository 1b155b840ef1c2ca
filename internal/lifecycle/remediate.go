package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/logfields"
)

// defaultIndexPage is written into web-root directories that serve no index
// file, so a freshly synced tree never exposes a directory listing or a 403.
const defaultIndexPage = `<!DOCTYPE html>
<html>
<head><title>Service Online</title></head>
<body><h1>Service Online</h1><p>This site is being configured.</p></body>
</html>
`

// FixPermissions normalizes ownership and modes under the service's web root
// inside the container. Runs as root via exec; directories get 755, files
// 644, and everything is chowned to the configured service user.
func (m *Manager) FixPermissions(ctx context.Context, eff config.Effective) error {
	if eff.WebRoot == "" {
		return nil
	}
	log := slog.With(logfields.Service(eff.Name), logfields.Container(eff.Container))
	log.Info("fixing permissions", logfields.Path(eff.WebRoot))

	script := fmt.Sprintf(
		"chown -R %s:%s %s && find %s -type d -exec chmod 755 {} + && find %s -type f -exec chmod 644 {} +",
		eff.User, eff.Group, eff.WebRoot, eff.WebRoot, eff.WebRoot)
	if out, err := m.engine.Exec(ctx, eff.Container, "root", script); err != nil {
		return &RemediationError{Service: eff.Name, Step: "permissions",
			Err: fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

// FixContent synthesizes a default index page in every directory under the
// web root that lacks one. Existing files are never overwritten.
func (m *Manager) FixContent(ctx context.Context, eff config.Effective) error {
	if eff.WebRoot == "" {
		return nil
	}
	log := slog.With(logfields.Service(eff.Name), logfields.Container(eff.Container))
	log.Info("synthesizing missing index pages", logfields.Path(eff.WebRoot))

	script := fmt.Sprintf(
		`for d in $(find %s -type d); do
  if [ ! -e "$d/index.html" ] && [ ! -e "$d/index.htm" ] && [ ! -e "$d/index.php" ]; then
    cat > "$d/index.html" <<'EOF'
%sEOF
  fi
done`, eff.WebRoot, defaultIndexPage)
	if out, err := m.engine.Exec(ctx, eff.Container, "root", script); err != nil {
		return &RemediationError{Service: eff.Name, Step: "content",
			Err: fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

// Remediate runs the full auto-fix sequence used when log monitoring finds
// access errors: content first, then permissions, then exactly one
// validation pass. Validation failure after remediation is surfaced as a
// remediation failure so the caller does not loop.
func (m *Manager) Remediate(ctx context.Context, eff config.Effective) error {
	if err := m.FixContent(ctx, eff); err != nil {
		return err
	}
	if err := m.FixPermissions(ctx, eff); err != nil {
		return err
	}
	if eff.ValidationCommand != "" {
		if err := m.Validate(ctx, eff); err != nil {
			return &RemediationError{Service: eff.Name, Step: "post-fix validation", Err: err}
		}
	}
	return nil
}
