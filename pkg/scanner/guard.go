package scanner

import (
	"github.com/sirupsen/logrus"
)

// release is one deferred resource release step.
type release struct {
	desc string
	fn   func() error
}

// guard accumulates release steps for transient scan resources (container,
// scratch directory) and runs them in reverse acquisition order on every exit
// path. A failed release is logged as a host resource leak and never returned,
// so cleanup problems cannot abort a sweep.
type guard struct {
	fields   logrus.Fields
	releases []release
}

func newGuard(fields logrus.Fields) *guard {
	return &guard{fields: fields}
}

// add registers a release step for a freshly acquired resource.
func (g *guard) add(desc string, fn func() error) {
	g.releases = append(g.releases, release{desc: desc, fn: fn})
}

// releaseAll runs all registered steps in reverse order. It is safe to call
// more than once; steps run exactly once.
func (g *guard) releaseAll() {
	for i := len(g.releases) - 1; i >= 0; i-- {
		step := g.releases[i]
		if err := step.fn(); err != nil {
			logrus.WithError(err).
				WithFields(g.fields).
				WithField("resource", step.desc).
				Error("Failed to release scan resource, leaking it on the host")
		} else {
			logrus.WithFields(g.fields).WithField("resource", step.desc).Debug("Released scan resource")
		}
	}

	g.releases = nil
}
