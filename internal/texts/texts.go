package texts

import (
	"sync"

	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/mmbots/linkguard/resources"
)

// Template keys, matching resources/messages.yaml.
const (
	WelcomePrivate     = "welcome_private"
	Stats              = "stats"
	AdminGranted       = "admin_granted"
	AdminNeeded        = "admin_needed"
	AdminReminder      = "admin_reminder"
	LinkRemoved        = "link_removed"
	LinkMuted          = "link_muted"
	RefreshDone        = "refresh_done"
	RefreshAllDone     = "refresh_all_done"
	BroadcastEmpty     = "broadcast_empty"
	BroadcastPending   = "broadcast_pending"
	BroadcastMissing   = "broadcast_missing"
	BroadcastCancelled = "broadcast_cancelled"
	BroadcastProgress  = "broadcast_progress"
	BroadcastDone      = "broadcast_done"
)

var state = struct {
	once      sync.Once
	templates map[string]string
}{}

func load() {
	state.once.Do(func() {
		raw, err := resources.FS.ReadFile("messages.yaml")
		if err != nil {
			log.WithError(err).Errorln("cant load messages")
			state.templates = map[string]string{}
			return
		}
		templates := make(map[string]string)
		if err := yaml.Unmarshal(raw, &templates); err != nil {
			log.WithError(err).Errorln("cant unmarshal messages")
		}
		state.templates = templates
	})
}

// Get returns the raw template for a key, or the key itself when missing.
func Get(key string) string {
	load()
	if tpl, ok := state.templates[key]; ok {
		return tpl
	}
	log.Tracef("no message template for key %q", key)
	return key
}

// Render fills a template with the given data.
func Render(key string, data map[string]any) string {
	return tool.ExecTemplate(Get(key), data)
}
