package scap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"
)

// Strategy is how a resolved datastream came to exist at its path.
type Strategy string

const (
	StrategyDirect  Strategy = "direct"
	StrategySymlink Strategy = "symlink"
	StrategyCopy    Strategy = "copy"
	StrategyRewrite Strategy = "rewritten"
)

// Fidelity says whether resolved content was published for the target
// identity or borrowed from a fallback.
type Fidelity string

const (
	FidelityExact       Fidelity = "exact"
	FidelityApproximate Fidelity = "approximate"
)

// AdaptedDatastream is the result of one resolution. Callers that get
// FidelityApproximate should tell the operator the content was borrowed.
type AdaptedDatastream struct {
	ResolvedPath   string
	Strategy       Strategy
	SourceIdentity OSIdentity
	Fidelity       Fidelity
	// RewriteVariant is set only when Strategy is StrategyRewrite.
	RewriteVariant RewriteVariant
}

// StrategyDetail is the strategy with the rewrite variant attached when one
// applies, for ledger rows and run summaries.
func (d *AdaptedDatastream) StrategyDetail() string {
	if d.Strategy == StrategyRewrite && d.RewriteVariant != "" {
		return string(d.Strategy) + "-" + string(d.RewriteVariant)
	}
	return string(d.Strategy)
}

// ContentProvisioner installs datastream content for an identity, typically
// by driving the package manager. Resolve calls it at most once per call.
type ContentProvisioner interface {
	ProvisionContent(ctx context.Context, id OSIdentity) error
}

// ResolveOptions adjust one resolution.
type ResolveOptions struct {
	// AllowRewrite permits the identifier-substitution strategy. Off by
	// default because it edits content rather than just placing it.
	AllowRewrite bool
	// ForceRewrite ignores anything already resolved at the target path
	// and goes straight to identifier substitution from a fallback
	// stream, for tooling that rejects content whose identifiers name a
	// different platform. Implies AllowRewrite. Replacing an existing
	// file still requires Overwrite.
	ForceRewrite bool
	// Overwrite replaces an adaptation already sitting at the canonical
	// path instead of reusing it.
	Overwrite bool
}

// Resolver locates, and if necessary synthesizes, a usable datastream for a
// target identity. The zero Log is silent.
type Resolver struct {
	Locator     Locator
	Provisioner ContentProvisioner
	Log         zerolog.Logger

	// symlinkf stands in for os.Symlink on filesystems without symlink
	// support. Tests set it; production code leaves it nil.
	symlinkf func(oldname, newname string) error
}

func (r *Resolver) symlink(oldname, newname string) error {
	if r.symlinkf != nil {
		return r.symlinkf(oldname, newname)
	}
	return os.Symlink(oldname, newname)
}

// Resolve probes for native content, then falls back to adapting the
// closest published identity. Strategies run in fidelity order: symlink,
// copy, rewrite. When nothing works the error unwraps to ErrNotFound (no
// source at all) or ErrAdaptationFailed (source present, every strategy
// failed, reasons attached).
func (r *Resolver) Resolve(ctx context.Context, target OSIdentity, opts ResolveOptions) (*AdaptedDatastream, error) {
	if !opts.ForceRewrite {
		if ds, ok := r.probeTarget(target, opts); ok {
			return ds, nil
		}
	}

	srcPath, srcID, ok := r.findFallback(target)
	if !ok && r.Provisioner != nil {
		r.Log.Info().Stringer("os", target).Msg("no local datastream, provisioning content")
		if err := r.Provisioner.ProvisionContent(ctx, target); err != nil {
			r.Log.Warn().Err(err).Stringer("os", target).Msg("content provisioning failed")
		}
		if !opts.ForceRewrite {
			if ds, ok2 := r.probeTarget(target, opts); ok2 {
				return ds, nil
			}
		}
		srcPath, srcID, ok = r.findFallback(target)
	}
	if !ok {
		if opts.ForceRewrite {
			return nil, fmt.Errorf("no fallback stream to rewrite for %s under %s: %w",
				target, r.Locator.ContentDir, ErrNotFound)
		}
		return nil, fmt.Errorf("no datastream for %s and no usable fallback under %s: %w",
			target, r.Locator.ContentDir, ErrNotFound)
	}

	dest := r.Locator.DatastreamPath(target)
	if fi, err := os.Lstat(dest); err == nil {
		// A symlink whose target is gone is leftover from a removed
		// source and is cleared silently. Anything live at the path
		// stays put unless the caller asked to overwrite.
		dangling := fi.Mode()&os.ModeSymlink != 0
		if dangling {
			if _, serr := os.Stat(dest); serr == nil {
				dangling = false
			}
		}
		if !opts.Overwrite && !dangling {
			return nil, fmt.Errorf("%s already exists, not replacing it without overwrite", dest)
		}
		if err := os.Remove(dest); err != nil {
			return nil, fmt.Errorf("removing stale adaptation %s: %v", dest, err)
		}
	}

	attempts := make([]StrategyAttempt, 0, 3)

	if opts.ForceRewrite {
		variant, rerr := r.rewriteTo(srcPath, dest, srcID, target)
		if rerr != nil {
			attempts = append(attempts, StrategyAttempt{StrategyRewrite, rerr.Error()})
			return nil, &AdaptationError{Target: target, Source: srcID, Attempts: attempts}
		}
		r.Log.Info().Str("path", dest).Stringer("source", srcID).Str("variant", string(variant)).
			Msg("datastream adapted via rewrite")
		return &AdaptedDatastream{
			ResolvedPath:   dest,
			Strategy:       StrategyRewrite,
			SourceIdentity: srcID,
			Fidelity:       FidelityApproximate,
			RewriteVariant: variant,
		}, nil
	}

	linkTarget := srcPath
	if filepath.Dir(srcPath) == filepath.Dir(dest) {
		linkTarget = filepath.Base(srcPath)
	}
	err := r.symlink(linkTarget, dest)
	if err == nil {
		r.Log.Info().Str("link", dest).Str("target", linkTarget).Stringer("source", srcID).
			Msg("datastream adapted via symlink")
		return &AdaptedDatastream{
			ResolvedPath:   dest,
			Strategy:       StrategySymlink,
			SourceIdentity: srcID,
			Fidelity:       FidelityApproximate,
		}, nil
	}
	attempts = append(attempts, StrategyAttempt{StrategySymlink, err.Error()})

	err = atomicCopy(srcPath, dest)
	if err == nil {
		r.Log.Info().Str("path", dest).Stringer("source", srcID).Msg("datastream adapted via copy")
		return &AdaptedDatastream{
			ResolvedPath:   dest,
			Strategy:       StrategyCopy,
			SourceIdentity: srcID,
			Fidelity:       FidelityApproximate,
		}, nil
	}
	attempts = append(attempts, StrategyAttempt{StrategyCopy, err.Error()})

	if !opts.AllowRewrite {
		attempts = append(attempts, StrategyAttempt{StrategyRewrite, "content rewrite not requested"})
	} else {
		variant, rerr := r.rewriteTo(srcPath, dest, srcID, target)
		if rerr == nil {
			r.Log.Info().Str("path", dest).Stringer("source", srcID).Str("variant", string(variant)).
				Msg("datastream adapted via rewrite")
			return &AdaptedDatastream{
				ResolvedPath:   dest,
				Strategy:       StrategyRewrite,
				SourceIdentity: srcID,
				Fidelity:       FidelityApproximate,
				RewriteVariant: variant,
			}, nil
		}
		attempts = append(attempts, StrategyAttempt{StrategyRewrite, rerr.Error()})
	}

	return nil, &AdaptationError{Target: target, Source: srcID, Attempts: attempts}
}

// probeTarget looks for content already at the target's candidate paths. A
// regular file is native content. A symlink is a previous adaptation and is
// reused unless the caller asked to overwrite.
func (r *Resolver) probeTarget(target OSIdentity, opts ResolveOptions) (*AdaptedDatastream, bool) {
	path, ok := FindFirstExisting(r.Locator.Candidates(target))
	if !ok {
		return nil, false
	}
	fi, err := os.Lstat(path)
	if err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if opts.Overwrite {
			return nil, false
		}
		srcID := r.linkSource(path)
		r.Log.Debug().Str("path", path).Stringer("source", srcID).Msg("reusing existing symlink adaptation")
		return &AdaptedDatastream{
			ResolvedPath:   path,
			Strategy:       StrategySymlink,
			SourceIdentity: srcID,
			Fidelity:       FidelityApproximate,
		}, true
	}
	r.Log.Debug().Str("path", path).Stringer("os", target).Msg("datastream already present")
	return &AdaptedDatastream{
		ResolvedPath:   path,
		Strategy:       StrategyDirect,
		SourceIdentity: target,
		Fidelity:       FidelityExact,
	}, true
}

func (r *Resolver) findFallback(target OSIdentity) (string, OSIdentity, bool) {
	for _, fb := range FallbacksFor(target) {
		if path, ok := FindFirstExisting(r.Locator.Candidates(fb)); ok {
			return path, fb, true
		}
	}
	return "", OSIdentity{}, false
}

// linkSource infers which identity a symlinked adaptation borrows from by
// reading the link target's file name.
func (r *Resolver) linkSource(link string) OSIdentity {
	target, err := os.Readlink(link)
	if err != nil {
		return OSIdentity{}
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	id, ok := identityFromPath(target)
	if !ok {
		return OSIdentity{}
	}
	return id
}

var dsNameRE = regexp.MustCompile(`^ssg-([a-z0-9]+)-ds\.xml$`)

func identityFromPath(path string) (OSIdentity, bool) {
	m := dsNameRE.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return OSIdentity{}, false
	}
	id, err := ParseShort(m[1])
	if err != nil {
		return OSIdentity{}, false
	}
	return id, true
}

func (r *Resolver) rewriteTo(srcPath, dest string, from, to OSIdentity) (RewriteVariant, error) {
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return "", err
	}
	out, variant, err := RewriteDatastream(src, from, to)
	if err != nil {
		return variant, err
	}
	tmp, err := stageBytes(dest, out)
	if err != nil {
		return variant, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return variant, err
	}
	return variant, nil
}

// stageCopy writes a temp sibling of dest holding a byte-for-byte copy of
// src. Staging in the destination directory keeps the later rename atomic.
func stageCopy(src, dest string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".ssg-stage-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func stageBytes(dest string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".ssg-stage-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// atomicCopy places a copy of src at dest so that a concurrent reader sees
// either no file or complete content, never a partial write.
func atomicCopy(src, dest string) error {
	tmp, err := stageCopy(src, dest)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
