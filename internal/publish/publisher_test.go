package publish

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Publisher {
	t.Helper()
	p, err := Open(context.Background(), "mem://", "era5", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPublisher_UploadsOnce(t *testing.T) {
	ctx := context.Background()
	p := openMem(t)

	local := filepath.Join(t.TempDir(), "ERA5_Land_2m_temperature_201401.nc")
	require.NoError(t, os.WriteFile(local, []byte("netcdf bytes"), 0o644))

	uploaded, err := p.Publish(ctx, local)
	require.NoError(t, err)
	assert.True(t, uploaded)

	data, err := p.bucket.ReadAll(ctx, "era5/ERA5_Land_2m_temperature_201401.nc")
	require.NoError(t, err)
	assert.Equal(t, "netcdf bytes", string(data))

	uploaded, err = p.Publish(ctx, local)
	require.NoError(t, err)
	assert.False(t, uploaded)

	require.NoError(t, os.WriteFile(local, []byte("netcdf bytes, regenerated"), 0o644))
	uploaded, err = p.Publish(ctx, local)
	require.NoError(t, err)
	assert.True(t, uploaded)
}

func TestPublisher_PublishAll(t *testing.T) {
	p := openMem(t)
	dir := t.TempDir()

	var paths []string
	for _, name := range []string{"a.nc", "b.nc"} {
		lp := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(lp, []byte(name), 0o644))
		paths = append(paths, lp)
	}

	n, err := p.PublishAll(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = p.PublishAll(context.Background(), []string{filepath.Join(dir, "missing.nc")})
	assert.Error(t, err)
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "nosuchscheme://bucket", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
