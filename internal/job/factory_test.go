package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type prefixHasher struct{}

// Hash returns a readable fake digest so tests can assert on derived IDs.
func (prefixHasher) Hash(data []byte) (string, error) {
	return "h:" + string(data), nil
}

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("boom") }

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(FactoryConfig{
		Origin:     "https://stats.example.org",
		PathMarker: "stats",
		Defaults: Segments{
			Epoch:       "all-time",
			Competition: "all",
			Region:      "global",
			Phase:       "all",
			Round:       "all",
		},
	}, prefixHasher{}, fixedClock{now: time.Unix(100, 0).UTC()})
	require.NoError(t, err)
	return f
}

func TestFactoryDescribeFullReference(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	j, err := f.Describe("https://stats.example.org/stats/2024/Masters/EMEA/playoffs/final")
	require.NoError(t, err)

	require.Equal(t, Segments{
		Epoch:       "2024",
		Competition: "masters",
		Region:      "emea",
		Phase:       "playoffs",
		Round:       "final",
	}, j.Segments)
	require.Equal(t, "stats.example.org/stats/2024/masters/emea/playoffs/final", j.Key)
	require.Equal(t, "https://stats.example.org/stats/2024/Masters/EMEA/playoffs/final", j.Source)
	require.Equal(t, "2024 / masters / emea / playoffs / final", j.Label)
	require.Equal(t, "2024_masters_emea_playoffs_final", j.OutputName)
	require.Equal(t, StatusPending, j.Status)
	require.Equal(t, time.Unix(100, 0).UTC(), j.SubmittedAt)
	require.Len(t, j.ID, idLength)
}

func TestFactoryDescribeFillsDefaults(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	j, err := f.Describe("https://stats.example.org/stats/2023")
	require.NoError(t, err)
	require.Equal(t, "2023_all_global_all_all", j.OutputName)
	require.Equal(t, "stats.example.org/stats/2023/all/global/all/all", j.Key)

	bare, err := f.Describe("https://stats.example.org/stats")
	require.NoError(t, err)
	require.Equal(t, "all-time_all_global_all_all", bare.OutputName)
}

func TestFactoryNormalizesEquivalentReferences(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	refs := []string{
		"https://stats.example.org/stats/2024/masters",
		"https://WWW.Stats.Example.org/stats/2024/masters/",
		"http://stats.example.org//stats/2024/MASTERS?tab=overview#top",
		"  https://stats.example.org/stats/2024/masters/global/all/all  ",
	}
	first, err := f.Describe(refs[0])
	require.NoError(t, err)
	for _, ref := range refs[1:] {
		got, err := f.Describe(ref)
		require.NoError(t, err, ref)
		require.Equal(t, first.Key, got.Key, ref)
		require.Equal(t, first.ID, got.ID, ref)
	}
}

func TestFactoryKeepsSourcePathCase(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	j, err := f.Describe("https://WWW.stats.example.org//stats/Y4-Split1/ProLeague/")
	require.NoError(t, err)
	require.Equal(t, "https://stats.example.org/stats/Y4-Split1/ProLeague", j.Source)
	require.Equal(t, "stats.example.org/stats/y4-split1/proleague/global/all/all", j.Key)
	require.Equal(t, "y4-split1_proleague_global_all_all", j.OutputName)
}

func TestFactoryKeyIncludesPathBeforeMarker(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	en, err := f.Describe("https://stats.example.org/en/stats/2024/masters")
	require.NoError(t, err)
	legacy, err := f.Describe("https://stats.example.org/legacy/stats/2024/masters")
	require.NoError(t, err)
	root, err := f.Describe("https://stats.example.org/stats/2024/masters")
	require.NoError(t, err)

	require.Equal(t, "stats.example.org/en/stats/2024/masters/global/all/all", en.Key)
	require.Equal(t, "stats.example.org/legacy/stats/2024/masters/global/all/all", legacy.Key)
	require.NotEqual(t, en.Key, legacy.Key)
	require.NotEqual(t, en.ID, legacy.ID)
	require.NotEqual(t, root.Key, en.Key)

	upper, err := f.Describe("https://stats.example.org/EN/Stats/2024/Masters")
	require.NoError(t, err)
	require.Equal(t, en.Key, upper.Key)
}

func TestFactoryIgnoresDefaultPort(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	plain, err := f.Describe("https://stats.example.org/stats/2024")
	require.NoError(t, err)

	tests := []struct {
		name string
		ref  string
	}{
		{name: "https default", ref: "https://stats.example.org:443/stats/2024"},
		{name: "http default", ref: "http://stats.example.org:80/stats/2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j, err := f.Describe(tt.ref)
			require.NoError(t, err)
			require.Equal(t, plain.Key, j.Key)
			require.NotContains(t, j.Source, ":443")
			require.NotContains(t, j.Source, ":80")
		})
	}

	_, err = f.Describe("https://stats.example.org:8443/stats/2024")
	require.ErrorIs(t, err, ErrRejected)
	_, err = f.Describe("http://stats.example.org:443/stats/2024")
	require.ErrorIs(t, err, ErrRejected)
}

func TestFactoryRejects(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	tests := []struct {
		name string
		ref  string
	}{
		{name: "empty", ref: "   "},
		{name: "foreign origin", ref: "https://evil.example.com/stats/2024"},
		{name: "missing marker", ref: "https://stats.example.org/players/2024"},
		{name: "bad scheme", ref: "ftp://stats.example.org/stats/2024"},
		{name: "unparseable", ref: "https://stats.example.org/%zz"},
		{name: "relative", ref: "/stats/2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.Describe(tt.ref)
			require.ErrorIs(t, err, ErrRejected)
		})
	}
}

func TestFactoryHasherFailure(t *testing.T) {
	t.Parallel()

	f, err := NewFactory(FactoryConfig{Origin: "https://stats.example.org", PathMarker: "/stats/"},
		failingHasher{}, fixedClock{})
	require.NoError(t, err)
	_, err = f.Describe("https://stats.example.org/stats/2024")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRejected)
}

func TestNewFactoryValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(FactoryConfig{Origin: "stats.example.org", PathMarker: "stats"}, prefixHasher{}, fixedClock{})
	require.Error(t, err)
	_, err = NewFactory(FactoryConfig{Origin: "https://stats.example.org", PathMarker: " / "}, prefixHasher{}, fixedClock{})
	require.Error(t, err)
	_, err = NewFactory(FactoryConfig{Origin: "https://stats.example.org", PathMarker: "stats"}, nil, fixedClock{})
	require.Error(t, err)
}

func TestOutcomeCloneIsDeep(t *testing.T) {
	t.Parallel()

	count := 3
	o := Succeeded(&count, []string{"a"})
	cp := o.Clone()
	*cp.ExtractedCount = 9
	cp.Artifacts[0] = "b"
	require.Equal(t, 3, *o.ExtractedCount)
	require.Equal(t, "a", o.Artifacts[0])
	require.True(t, o.Status.Terminal())
	require.False(t, StatusRunning.Terminal())
}
