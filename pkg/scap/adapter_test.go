package scap

import (
	"context"
	"errors"
	"os"
	"strings"

	g "github.com/onsi/ginkgo/v2"
	o "github.com/onsi/gomega"
)

type stubProvisioner struct {
	calls int
	fn    func(id OSIdentity) error
}

func (s *stubProvisioner) ProvisionContent(_ context.Context, id OSIdentity) error {
	s.calls++
	return s.fn(id)
}

var _ = g.Describe("Datastream resolver", func() {
	var (
		loc Locator
		r   *Resolver
		ctx context.Context
	)

	g.BeforeEach(func() {
		dir, err := os.MkdirTemp("", "ssg-content-*")
		o.Expect(err).NotTo(o.HaveOccurred())
		g.DeferCleanup(func() {
			os.Chmod(dir, 0o755)
			os.RemoveAll(dir)
		})
		loc = Locator{ContentDir: dir, ScratchDir: dir}
		r = &Resolver{Locator: loc}
		ctx = context.Background()
	})

	writeDS := func(id OSIdentity, content string) string {
		path := loc.DatastreamPath(id)
		o.Expect(os.WriteFile(path, []byte(content), 0o644)).To(o.Succeed())
		return path
	}

	g.It("returns native content untouched when it is already installed", func() {
		native := writeDS(RHEL10, sampleDatastream)
		writeDS(RHEL9, sampleDatastream)

		ds, err := r.Resolve(ctx, RHEL10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(ds.ResolvedPath).To(o.Equal(native))
		o.Expect(ds.Strategy).To(o.Equal(StrategyDirect))
		o.Expect(ds.Fidelity).To(o.Equal(FidelityExact))
		o.Expect(ds.SourceIdentity).To(o.Equal(RHEL10))

		entries, err := os.ReadDir(loc.ContentDir)
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(entries).To(o.HaveLen(2), "resolution must not write anything")
	})

	g.It("borrows the closest published stream over a relative symlink", func() {
		source := writeDS(RHEL9, strings.Repeat("a", 500))

		ds, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(ds.Strategy).To(o.Equal(StrategySymlink))
		o.Expect(ds.StrategyDetail()).To(o.Equal("symlink"))
		o.Expect(ds.SourceIdentity).To(o.Equal(RHEL9))
		o.Expect(ds.Fidelity).To(o.Equal(FidelityApproximate))
		o.Expect(ds.ResolvedPath).To(o.Equal(loc.DatastreamPath(CentOS10)))

		target, err := os.Readlink(ds.ResolvedPath)
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(target).To(o.Equal("ssg-rhel9-ds.xml"), "same-directory links are relative")

		linked, err := os.ReadFile(ds.ResolvedPath)
		o.Expect(err).NotTo(o.HaveOccurred())
		want, err := os.ReadFile(source)
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(linked).To(o.Equal(want))
	})

	g.It("prefers the same-major stream over the previous one", func() {
		writeDS(RHEL9, "nine")
		writeDS(RHEL10, "ten")

		ds, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(ds.SourceIdentity).To(o.Equal(RHEL10))
	})

	g.It("reuses an existing adaptation instead of rebuilding it", func() {
		writeDS(RHEL9, "nine")

		first, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())

		second, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(second.ResolvedPath).To(o.Equal(first.ResolvedPath))
		o.Expect(second.Strategy).To(o.Equal(StrategySymlink))
		o.Expect(second.SourceIdentity).To(o.Equal(RHEL9))
		o.Expect(second.Fidelity).To(o.Equal(FidelityApproximate))
	})

	g.It("rebuilds the adaptation when asked to overwrite", func() {
		writeDS(RHEL9, "nine")
		_, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())

		// A better source appears later.
		writeDS(RHEL10, "ten")
		ds, err := r.Resolve(ctx, CentOS10, ResolveOptions{Overwrite: true})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(ds.SourceIdentity).To(o.Equal(RHEL10))

		linked, err := os.ReadFile(ds.ResolvedPath)
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(string(linked)).To(o.Equal("ten"))
	})

	g.It("replaces a dangling leftover link", func() {
		o.Expect(os.Symlink("ssg-gone-ds.xml", loc.DatastreamPath(CentOS10))).To(o.Succeed())
		writeDS(RHEL9, "nine")

		ds, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(ds.Strategy).To(o.Equal(StrategySymlink))
		o.Expect(ds.SourceIdentity).To(o.Equal(RHEL9))
	})

	g.It("falls back to copying when the filesystem refuses symlinks", func() {
		r.symlinkf = func(_, _ string) error { return errors.New("operation not supported") }
		source := writeDS(RHEL9, "copied bytes")

		ds, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(ds.Strategy).To(o.Equal(StrategyCopy))
		o.Expect(ds.Fidelity).To(o.Equal(FidelityApproximate))

		fi, err := os.Lstat(ds.ResolvedPath)
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(fi.Mode().IsRegular()).To(o.BeTrue())

		got, err := os.ReadFile(ds.ResolvedPath)
		o.Expect(err).NotTo(o.HaveOccurred())
		want, err := os.ReadFile(source)
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(got).To(o.Equal(want))
	})

	g.It("rewrites identifiers on demand", func() {
		writeDS(RHEL9, sampleDatastream)

		ds, err := r.Resolve(ctx, CentOS10, ResolveOptions{ForceRewrite: true, Overwrite: true})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(ds.Strategy).To(o.Equal(StrategyRewrite))
		o.Expect(ds.RewriteVariant).To(o.Equal(StructuralRewrite))
		o.Expect(ds.StrategyDetail()).To(o.Equal("rewritten-structural"))
		o.Expect(ds.SourceIdentity).To(o.Equal(RHEL9))

		got, err := os.ReadFile(ds.ResolvedPath)
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(string(got)).NotTo(o.ContainSubstring("rhel9"))
		o.Expect(string(got)).To(o.ContainSubstring("cpe:/o:centos:centos:10"))
	})

	g.It("turns a symlink adaptation into a rewritten stream on demand", func() {
		writeDS(RHEL9, sampleDatastream)
		first, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(first.Strategy).To(o.Equal(StrategySymlink))

		ds, err := r.Resolve(ctx, CentOS10, ResolveOptions{ForceRewrite: true, Overwrite: true})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(ds.Strategy).To(o.Equal(StrategyRewrite))

		fi, err := os.Lstat(ds.ResolvedPath)
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(fi.Mode().IsRegular()).To(o.BeTrue(), "the link must be replaced by a real file")
	})

	g.It("refuses to rewrite over existing content without overwrite", func() {
		writeDS(RHEL9, sampleDatastream)
		_, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())

		_, err = r.Resolve(ctx, CentOS10, ResolveOptions{ForceRewrite: true})
		o.Expect(err).To(o.HaveOccurred())
		o.Expect(err.Error()).To(o.ContainSubstring("without overwrite"))
	})

	g.It("reports every strategy it tried when none works", func() {
		if os.Geteuid() == 0 {
			g.Skip("permission denial does not apply to root")
		}
		writeDS(RHEL9, "nine")
		o.Expect(os.Chmod(loc.ContentDir, 0o555)).To(o.Succeed())

		_, err := r.Resolve(ctx, CentOS10, ResolveOptions{AllowRewrite: true})
		o.Expect(err).To(o.HaveOccurred())
		o.Expect(errors.Is(err, ErrAdaptationFailed)).To(o.BeTrue())

		var ae *AdaptationError
		o.Expect(errors.As(err, &ae)).To(o.BeTrue())
		o.Expect(ae.Attempts).To(o.HaveLen(3))
		o.Expect(ae.Attempts[0].Strategy).To(o.Equal(StrategySymlink))
		o.Expect(ae.Attempts[1].Strategy).To(o.Equal(StrategyCopy))
		o.Expect(ae.Attempts[2].Strategy).To(o.Equal(StrategyRewrite))
		for _, a := range ae.Attempts {
			o.Expect(a.Reason).NotTo(o.BeEmpty())
		}
		o.Expect(ae.Source).To(o.Equal(RHEL9))
	})

	g.It("records that rewriting was not requested", func() {
		if os.Geteuid() == 0 {
			g.Skip("permission denial does not apply to root")
		}
		r.symlinkf = func(_, _ string) error { return errors.New("operation not supported") }
		writeDS(RHEL9, "nine")
		o.Expect(os.Chmod(loc.ContentDir, 0o555)).To(o.Succeed())

		_, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		var ae *AdaptationError
		o.Expect(errors.As(err, &ae)).To(o.BeTrue())
		o.Expect(ae.Attempts[2].Reason).To(o.ContainSubstring("not requested"))
	})

	g.It("reports not found when no source exists at all", func() {
		_, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(errors.Is(err, ErrNotFound)).To(o.BeTrue())
	})

	g.It("asks the provisioner once and probes again", func() {
		prov := &stubProvisioner{fn: func(id OSIdentity) error {
			writeDS(id, "freshly installed")
			return nil
		}}
		r.Provisioner = prov

		ds, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(err).NotTo(o.HaveOccurred())
		o.Expect(prov.calls).To(o.Equal(1))
		o.Expect(ds.Strategy).To(o.Equal(StrategyDirect))
		o.Expect(ds.Fidelity).To(o.Equal(FidelityExact))
	})

	g.It("does not loop when provisioning cannot help", func() {
		prov := &stubProvisioner{fn: func(OSIdentity) error {
			return errors.New("repository unreachable")
		}}
		r.Provisioner = prov

		_, err := r.Resolve(ctx, CentOS10, ResolveOptions{})
		o.Expect(errors.Is(err, ErrNotFound)).To(o.BeTrue())
		o.Expect(prov.calls).To(o.Equal(1))
	})
})
