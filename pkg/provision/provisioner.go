package provision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

// Provisioner is the resolver's provisioning hook: the package manager
// first, the upstream release when the repositories cannot help.
type Provisioner struct {
	Packages *PackageManager
	Content  *ContentFetcher
	Log      zerolog.Logger
}

var _ scap.ContentProvisioner = (*Provisioner)(nil)

// ProvisionContent makes datastream content appear on the host.
func (p *Provisioner) ProvisionContent(ctx context.Context, id scap.OSIdentity) error {
	err := p.Packages.Install(ctx, PkgGuide)
	if err == nil {
		return nil
	}
	p.Log.Warn().Err(err).Stringer("os", id).
		Msg("package manager cannot provide content, trying upstream release")

	latest, lerr := p.Content.LatestVersion(ctx)
	if lerr != nil {
		return fmt.Errorf("no content from packages (%v) or upstream (%v)", err, lerr)
	}
	return p.Content.Fetch(ctx, latest)
}
