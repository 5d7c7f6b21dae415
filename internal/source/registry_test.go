package source_test

import (
	"context"
	"errors"
	"testing"

	"deftheim/internal/domain"
	"deftheim/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	id       string
	releases map[string]*domain.Release
	err      error
	calls    int
}

func (m *mockRepo) ID() string   { return m.id }
func (m *mockRepo) Name() string { return "Mock " + m.id }

func (m *mockRepo) Latest(_ context.Context, mod domain.Mod) (*domain.Release, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if rel, ok := m.releases[mod.ID]; ok {
		cp := *rel
		return &cp, nil
	}
	return nil, domain.ErrModNotFound
}

func (m *mockRepo) DownloadURL(_ context.Context, rel *domain.Release) (string, error) {
	return rel.DownloadURL, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := source.NewRegistry()
	reg.Register(&mockRepo{id: "a"})
	reg.Register(&mockRepo{id: "b"})

	src, err := reg.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "b", src.ID())

	_, err = reg.Get("missing")
	assert.Error(t, err)

	ids := []string{}
	for _, s := range reg.List() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestRegistry_RegisterReplacesInPlace(t *testing.T) {
	reg := source.NewRegistry()
	reg.Register(&mockRepo{id: "a"})
	reg.Register(&mockRepo{id: "b"})
	replacement := &mockRepo{id: "a"}
	reg.Register(replacement)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Same(t, replacement, list[0])
}

func TestRegistry_ResolvePriority(t *testing.T) {
	first := &mockRepo{id: "first", releases: map[string]*domain.Release{}}
	second := &mockRepo{id: "second", releases: map[string]*domain.Release{
		"A-A": {ModID: "A-A", Version: "1.2.0"},
	}}
	reg := source.NewRegistry()
	reg.Register(first)
	reg.Register(second)

	rel, repo, err := reg.Resolve(context.Background(), domain.Mod{ID: "A-A"})
	require.NoError(t, err)
	assert.Equal(t, "second", repo.ID())
	assert.Equal(t, "second", rel.Source)
	assert.Equal(t, 1, first.calls)
}

func TestRegistry_ResolveNotFound(t *testing.T) {
	reg := source.NewRegistry()
	reg.Register(&mockRepo{id: "a"})

	_, _, err := reg.Resolve(context.Background(), domain.Mod{ID: "X-Y"})
	assert.ErrorIs(t, err, domain.ErrModNotFound)
}

func TestRegistry_ResolveNetworkFailure(t *testing.T) {
	reg := source.NewRegistry()
	reg.Register(&mockRepo{id: "down", err: &domain.NetworkError{Source: "down", Err: errors.New("dial tcp")}})
	reg.Register(&mockRepo{id: "empty"})

	_, _, err := reg.Resolve(context.Background(), domain.Mod{ID: "X-Y"})
	var netErr *domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.NotErrorIs(t, err, domain.ErrModNotFound)
}
