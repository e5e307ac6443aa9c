package bridge

import (
	"testing"

	"github.com/srg/museb/internal/headband"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_ReplaceAndResolve(t *testing.T) {
	c := NewCatalog(DisambiguateByID, quietLogger())
	a := newFakeHeadband("A", "00:01")
	b := newFakeHeadband("B", "00:02")

	names := c.Replace([]headband.Headband{a, b})
	assert.Equal(t, "A B", names)

	got, err := c.Resolve("A")
	require.NoError(t, err)
	assert.Same(t, a, got)
	got, err = c.Resolve("B")
	require.NoError(t, err)
	assert.Same(t, b, got)

	c.Replace([]headband.Headband{newFakeHeadband("C", "00:03")})

	for _, gone := range []string{"A", "B"} {
		_, err := c.Resolve(gone)
		assert.ErrorIs(t, err, ErrDeviceNotFound, "%s MUST disappear after a new snapshot", gone)
	}
	_, err = c.Resolve("C")
	assert.NoError(t, err)
}

func TestCatalog_SingleDeviceJoin(t *testing.T) {
	c := NewCatalog(DisambiguateByID, quietLogger())

	names := c.Replace([]headband.Headband{newFakeHeadband("MuseHeadband-1234", "00:55:DA:B0:12:34")})

	assert.Equal(t, "MuseHeadband-1234", names, "device list MUST be joined without a trailing separator")
}

func TestCatalog_EmptySnapshot(t *testing.T) {
	c := NewCatalog(DisambiguateByID, quietLogger())
	c.Replace([]headband.Headband{newFakeHeadband("A", "1")})

	assert.Equal(t, "", c.Replace(nil))
	assert.Empty(t, c.Names())

	_, err := c.Resolve("A")
	var nf *DeviceNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "A", nf.Name)
	assert.Empty(t, nf.Known)
}

func TestCatalog_DuplicateNames(t *testing.T) {
	first := newFakeHeadband("Muse-7A2C", "00:55:DA:B0:7A:2C")
	second := newFakeHeadband("Muse-7A2C", "00:55:DA:B0:99:01")

	t.Run("disambiguate by id", func(t *testing.T) {
		c := NewCatalog(DisambiguateByID, quietLogger())

		names := c.Replace([]headband.Headband{first, second})

		assert.Equal(t, "Muse-7A2C Muse-7A2C#00:55:DA:B0:99:01", names)
		got, err := c.Resolve("Muse-7A2C")
		require.NoError(t, err)
		assert.Same(t, first, got, "first device MUST keep the bare name")
		got, err = c.Resolve("Muse-7A2C#00:55:DA:B0:99:01")
		require.NoError(t, err)
		assert.Same(t, second, got)
	})

	t.Run("same device reported twice", func(t *testing.T) {
		c := NewCatalog(DisambiguateByID, quietLogger())

		names := c.Replace([]headband.Headband{first, second, second})

		assert.Equal(t, []string{"Muse-7A2C", "Muse-7A2C#00:55:DA:B0:99:01"}, c.Names())
		assert.Equal(t, "Muse-7A2C Muse-7A2C#00:55:DA:B0:99:01", names)
	})

	t.Run("same handle listed twice", func(t *testing.T) {
		c := NewCatalog(DisambiguateByID, quietLogger())

		names := c.Replace([]headband.Headband{first, first})

		assert.Equal(t, "Muse-7A2C", names, "a repeated handle MUST be published once")
		_, err := c.Resolve("Muse-7A2C#00:55:DA:B0:7A:2C")
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})

	t.Run("fresh handle with the same id", func(t *testing.T) {
		c := NewCatalog(DisambiguateByID, quietLogger())
		again := newFakeHeadband("Muse-7A2C", "00:55:DA:B0:7A:2C")

		names := c.Replace([]headband.Headband{first, again, second})

		assert.Equal(t, "Muse-7A2C Muse-7A2C#00:55:DA:B0:99:01", names)
		got, err := c.Resolve("Muse-7A2C")
		require.NoError(t, err)
		assert.Same(t, first, got, "the first handle of a hardware id MUST be kept")
	})

	t.Run("last write wins", func(t *testing.T) {
		c := NewCatalog(LastWriteWins, quietLogger())

		names := c.Replace([]headband.Headband{first, second})

		assert.Equal(t, "Muse-7A2C", names)
		got, err := c.Resolve("Muse-7A2C")
		require.NoError(t, err)
		assert.Same(t, second, got)
	})
}

func TestParseDuplicateNamePolicy(t *testing.T) {
	p, err := ParseDuplicateNamePolicy("last-write-wins")
	require.NoError(t, err)
	assert.Equal(t, LastWriteWins, p)

	p, err = ParseDuplicateNamePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DisambiguateByID, p)

	_, err = ParseDuplicateNamePolicy("first")
	assert.Error(t, err)
}
