package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SOURCE_BASE_URL", "https://shop.example.com/rest")
	t.Setenv("CONTACT_BASE_URL", "https://crm.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mautic", cfg.DispatchChannel)
	assert.Equal(t, 20, cfg.Source.BulkChunk)
	assert.Equal(t, 200*time.Millisecond, cfg.Pacing.BetweenPages)
	assert.Equal(t, 150*time.Millisecond, cfg.Pacing.BetweenChunks)
	assert.Equal(t, 60*time.Second, cfg.Jobs.LeaseTTL)
	assert.Equal(t, "pending,retry", cfg.Jobs.DispatchStates)
	assert.Equal(t, "magento", cfg.Contact.OriginTag)
}

func TestLoad_ClampsBatches(t *testing.T) {
	setRequired(t)
	t.Setenv("DISPATCH_BATCH", "5000")
	t.Setenv("DETAILS_BATCH", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, MaxDispatchBatch, cfg.Jobs.DispatchBatch)
	assert.Equal(t, MinBatchSize, cfg.Jobs.DetailsBatch)
}

func TestLoad_ParsesLists(t *testing.T) {
	setRequired(t)
	t.Setenv("MIRROR_CHANNELS", "file,broker")
	t.Setenv("CONTACT_EXTRA_TAGS", "vip,newsletter")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"file", "broker"}, cfg.MirrorChannels)
	assert.Equal(t, []string{"vip", "newsletter"}, cfg.Contact.ExtraTags)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing source url", map[string]string{"SOURCE_BASE_URL": "", "CONTACT_BASE_URL": "https://crm.example.com"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"bad duration", map[string]string{"LEASE_TTL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
