// Package prompts holds every spoken and SMS text the call flow emits.
//
// Texts ship with compiled-in defaults and can be overridden by a YAML file.
// The file is watched, so care teams can adjust wording without restarting
// the daemon; in-flight webhook handlers always see a consistent snapshot.
package prompts

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/calyxhealth/remindd/internal/adherence"
)

// Templates is one immutable snapshot of every message text.
type Templates struct {
	// Initial is the full reminder spoken when the call connects.
	Initial string `koanf:"initial"`

	// Reask is the short re-prompt after empty speech.
	Reask string `koanf:"reask"`

	// Closing is spoken when retries are exhausted, before hanging up.
	Closing string `koanf:"closing"`

	// Verdict replies, keyed by adherence status.
	ReplyFull    string `koanf:"reply_full"`
	ReplyPartial string `koanf:"reply_partial"`
	ReplyNone    string `koanf:"reply_none"`
	ReplyUnclear string `koanf:"reply_unclear"`

	// GenericAck replaces a verdict reply when classification fails.
	GenericAck string `koanf:"generic_ack"`

	// FallbackSMS is the text message sent when a call never reached a
	// live person.
	FallbackSMS string `koanf:"fallback_sms"`
}

// Defaults returns the compiled-in message texts.
func Defaults() Templates {
	return Templates{
		Initial: "Hello, this is your medication reminder service. " +
			"Have you taken your prescribed medication today? " +
			"Please answer yes or no after the tone.",
		Reask: "I didn't catch that. Have you taken your medication today? " +
			"Please answer yes or no.",
		Closing: "We could not hear your response. " +
			"Please remember to take your medication. Goodbye.",
		ReplyFull: "Great, thank you for taking your medication. " +
			"Keep up the good work. Goodbye.",
		ReplyPartial: "Thank you. Please remember to take the rest of your " +
			"doses as prescribed. Goodbye.",
		ReplyNone: "Please take your medication as soon as possible, as " +
			"prescribed by your doctor. Goodbye.",
		ReplyUnclear: "Thank you for your response. Please remember to take " +
			"your medication as prescribed. Goodbye.",
		GenericAck: "Thank you for your response. Goodbye.",
		FallbackSMS: "We tried to reach you about your medication reminder " +
			"but could not connect. Please remember to take your prescribed " +
			"medication today.",
	}
}

// Reply returns the spoken reply for an adherence verdict. Unclear and
// Unknown share a template.
func (t Templates) Reply(status adherence.Status) string {
	switch status {
	case adherence.StatusFull:
		return t.ReplyFull
	case adherence.StatusPartial:
		return t.ReplyPartial
	case adherence.StatusNone:
		return t.ReplyNone
	default:
		return t.ReplyUnclear
	}
}

// Catalog serves template snapshots and optionally reloads them from a file.
type Catalog struct {
	current atomic.Pointer[Templates]
	path    string
	logger  *zap.Logger
}

// NewCatalog builds a catalog from defaults, overlaid with the YAML file at
// path when path is non-empty. A missing file is not an error; a present but
// malformed file is.
func NewCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Catalog{path: path, logger: logger}

	tpl, err := load(path)
	if err != nil {
		return nil, err
	}
	c.current.Store(&tpl)
	return c, nil
}

// Current returns the active template snapshot.
func (c *Catalog) Current() Templates {
	return *c.current.Load()
}

// Watch reloads the catalog whenever the override file changes, until ctx is
// cancelled. It is a no-op when no override path is configured. A reload
// failure keeps the previous snapshot.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}

	if err := watcher.Add(c.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", c.path, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				tpl, err := load(c.path)
				if err != nil {
					c.logger.Warn("prompt reload failed, keeping previous catalog",
						zap.String("path", c.path),
						zap.Error(err))
					continue
				}
				c.current.Store(&tpl)
				c.logger.Info("prompt catalog reloaded", zap.String("path", c.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("prompt watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

// load reads defaults and overlays the file at path when it exists.
func load(path string) (Templates, error) {
	tpl := Defaults()
	if path == "" {
		return tpl, nil
	}

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return tpl, nil
	}
	if err != nil {
		return Templates{}, fmt.Errorf("reading prompt file %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return Templates{}, fmt.Errorf("parsing prompt file %s: %w", path, err)
	}
	if err := k.Unmarshal("", &tpl); err != nil {
		return Templates{}, fmt.Errorf("decoding prompt file %s: %w", path, err)
	}

	return tpl, nil
}
