package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivedeck/internal/config"
)

func TestNew(t *testing.T) {
	for _, backend := range []string{"gdrive", "memory"} {
		opener, err := New(context.Background(), &config.Config{StoreBackend: backend}, nil)
		require.NoError(t, err)
		assert.Equal(t, backend, opener.Name())
	}

	_, err := New(context.Background(), &config.Config{StoreBackend: "ftp"}, nil)
	assert.Error(t, err)
}
