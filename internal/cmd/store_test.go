package cmd

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/drawmill/internal/config"
)

func TestSweepMaxAge(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{RetentionAge: 720 * time.Hour}}

	t.Run("falls back to configured retention age", func(t *testing.T) {
		cmd := &cobra.Command{}
		cmd.Flags().Duration("max-age", 0, "")

		assert.Equal(t, 720*time.Hour, sweepMaxAge(cmd, cfg))
	})

	t.Run("explicit flag wins over config", func(t *testing.T) {
		cmd := &cobra.Command{}
		cmd.Flags().DurationVar(&storeSweepMaxAge, "max-age", 0, "")
		require.NoError(t, cmd.Flags().Set("max-age", "24h"))
		defer func() { storeSweepMaxAge = 0 }()

		assert.Equal(t, 24*time.Hour, sweepMaxAge(cmd, cfg))
	})

	t.Run("nil config keeps flag value", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), sweepMaxAge(nil, nil))
	})
}
