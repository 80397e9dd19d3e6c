package partition

import (
	"context"
	"errors"
	"fmt"

	"mailpart/internal/container"
)

var errBoom = errors.New("boom")

type fakeContainer struct {
	path     string
	gen      int
	released bool
	items    int64
}

func (c *fakeContainer) Path() string { return c.path }

func (c *fakeContainer) Append(_ string, _ []byte) error {
	if c.released {
		return container.ErrReleased
	}
	c.items++
	return nil
}

func (c *fakeContainer) Count() int64 { return c.items }

// fakeProvisioner 는 호출 기록만 남기는 in-memory provisioner.
type fakeProvisioner struct {
	provisioned []string
	released    []string
	reopened    []string

	failProvision func(path string) bool
	failRelease   bool
	failReopen    bool
	redirect      func(path string) string
}

func (p *fakeProvisioner) Provision(_ context.Context, path string) (container.Container, string, error) {
	if p.failProvision != nil && p.failProvision(path) {
		return nil, "", fmt.Errorf("create %s: %w", path, errBoom)
	}
	actual := path
	if p.redirect != nil {
		actual = p.redirect(path)
	}
	p.provisioned = append(p.provisioned, path)
	return &fakeContainer{path: actual}, actual, nil
}

func (p *fakeProvisioner) Reopen(_ context.Context, c container.Container) (container.Container, string, error) {
	fc := c.(*fakeContainer)
	if p.failReopen {
		return nil, "", errBoom
	}
	p.reopened = append(p.reopened, fc.path)
	return &fakeContainer{path: fc.path, gen: fc.gen + 1, items: fc.items}, fc.path, nil
}

func (p *fakeProvisioner) Release(_ context.Context, c container.Container) error {
	if p.failRelease {
		return errBoom
	}
	fc := c.(*fakeContainer)
	fc.released = true
	p.released = append(p.released, fc.path)
	return nil
}

func (p *fakeProvisioner) Remove(_ context.Context, _ container.Container) error { return nil }
