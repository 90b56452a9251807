package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calyxhealth/remindd/internal/adherence"
)

func TestDefaults(t *testing.T) {
	tpl := Defaults()

	assert.Contains(t, tpl.Initial, "medication")
	assert.Contains(t, tpl.Reask, "didn't catch that")
	assert.NotEmpty(t, tpl.Closing)
	assert.NotEmpty(t, tpl.FallbackSMS)
}

func TestReply_ByVerdict(t *testing.T) {
	tpl := Defaults()

	assert.Equal(t, tpl.ReplyFull, tpl.Reply(adherence.StatusFull))
	assert.Equal(t, tpl.ReplyPartial, tpl.Reply(adherence.StatusPartial))
	assert.Equal(t, tpl.ReplyNone, tpl.Reply(adherence.StatusNone))
	assert.Equal(t, tpl.ReplyUnclear, tpl.Reply(adherence.StatusUnclear))
	// Unknown shares the unclear template.
	assert.Equal(t, tpl.ReplyUnclear, tpl.Reply(adherence.StatusUnknown))
}

func TestNewCatalog_NoOverride(t *testing.T) {
	c, err := NewCatalog("", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c.Current())
}

func TestNewCatalog_MissingFileUsesDefaults(t *testing.T) {
	c, err := NewCatalog(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c.Current())
}

func TestNewCatalog_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("initial: Custom greeting\n"), 0600))

	c, err := NewCatalog(path, zap.NewNop())
	require.NoError(t, err)

	tpl := c.Current()
	assert.Equal(t, "Custom greeting", tpl.Initial)
	// Unset keys keep their defaults.
	assert.Equal(t, Defaults().Reask, tpl.Reask)
}

func TestNewCatalog_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("initial: [broken"), 0600))

	_, err := NewCatalog(path, zap.NewNop())
	require.Error(t, err)
}

func TestWatch_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("initial: First\n"), 0600))

	c, err := NewCatalog(path, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("initial: Second\n"), 0600))

	assert.Eventually(t, func() bool {
		return c.Current().Initial == "Second"
	}, 3*time.Second, 20*time.Millisecond)
}
