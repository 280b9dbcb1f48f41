package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"reverie/internal/models"
)

// botQuestionPatterns detect the user asking whether they are talking
// to a machine. Those turns get a curated deflection instead of a
// generated reply.
var botQuestionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bare you (?:a |an )?(?:robot|bot|ai|human|real|chatbot|computer|machine)\b`),
	regexp.MustCompile(`(?i)\bam i talking to (?:a |an )?(?:robot|bot|ai|human|real person|machine)\b`),
	regexp.MustCompile(`(?i)\byou(?:'re| are) (?:a |an )?(?:robot|bot|ai|chatbot|machine|computer)\b`),
	regexp.MustCompile(`(?i)\bis this (?:a |an )?(?:bot|ai|robot|real person)\b`),
	regexp.MustCompile(`(?i)\b(?:prove|convince me) (?:that )?you(?:'re| are) (?:real|human)\b`),
}

// PersonaService owns the persona definition: an immutable snapshot
// swapped wholesale on reload, never mutated in place.
type PersonaService struct {
	path string

	mu      sync.RWMutex
	current *models.Persona
}

// NewPersonaService loads the persona file and fails hard when it is
// missing or invalid: the service cannot speak without one.
func NewPersonaService(path string) (*PersonaService, error) {
	persona, err := loadPersona(path)
	if err != nil {
		return nil, err
	}
	logrus.Infof("🎭 [PERSONA] Loaded persona %q from %s", persona.Name, path)
	return &PersonaService{path: path, current: persona}, nil
}

func loadPersona(path string) (*models.Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	var persona models.Persona
	if err := yaml.Unmarshal(raw, &persona); err != nil {
		return nil, fmt.Errorf("failed to parse persona file: %w", err)
	}

	if persona.Name == "" {
		return nil, fmt.Errorf("persona file %s: name is required", path)
	}
	if persona.SystemPrompt == "" {
		return nil, fmt.Errorf("persona file %s: system_prompt is required", path)
	}
	if len(persona.DefaultFallback) == 0 {
		return nil, fmt.Errorf("persona file %s: default_fallback must have at least one entry", path)
	}
	return &persona, nil
}

// Current returns the active persona snapshot.
func (p *PersonaService) Current() *models.Persona {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Reload re-reads the persona file. An invalid file keeps the previous
// snapshot in place.
func (p *PersonaService) Reload() error {
	persona, err := loadPersona(p.path)
	if err != nil {
		logrus.Warnf("⚠️ [PERSONA] Reload failed, keeping previous persona: %v", err)
		return err
	}

	p.mu.Lock()
	p.current = persona
	p.mu.Unlock()

	logrus.Infof("🎭 [PERSONA] Reloaded persona %q", persona.Name)
	return nil
}

// StartWatching hot-reloads the persona when its file changes. Watches
// the directory rather than the file so editor save-by-rename still
// fires. Stops when ctx is cancelled.
func (p *PersonaService) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create persona watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch persona directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(p.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				_ = p.Reload() // failure already logged, previous snapshot stays
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.Warnf("⚠️ [PERSONA] Watcher error: %v", err)
			}
		}
	}()

	logrus.Infof("🎭 [PERSONA] Watching %s for changes", p.path)
	return nil
}

// GuidanceText renders the persona's style guidance for a detected
// tone. Unknown tones fall back to the casual entry.
func (p *PersonaService) GuidanceText(tone models.ToneResult) string {
	persona := p.Current()

	g, ok := persona.ToneGuidance[tone.Primary]
	if !ok {
		g, ok = persona.ToneGuidance[models.ToneCasual]
	}

	var b strings.Builder
	b.WriteString("TONE GUIDANCE:\n")
	fmt.Fprintf(&b, "The user seems %s (%s energy).", tone.Primary, tone.Energy)
	if !ok {
		return b.String()
	}
	if g.Style != "" {
		b.WriteString("\nStyle: " + g.Style)
	}
	if len(g.Avoid) > 0 {
		b.WriteString("\nAvoid: " + strings.Join(g.Avoid, ", "))
	}
	if len(g.Include) > 0 {
		b.WriteString("\nLean into: " + strings.Join(g.Include, ", "))
	}
	return b.String()
}

// IsBotQuestion reports whether the message is asking if the persona
// is a machine.
func (p *PersonaService) IsBotQuestion(message string) bool {
	for _, pattern := range botQuestionPatterns {
		if pattern.MatchString(message) {
			return true
		}
	}
	return false
}

// Deflection picks a curated are-you-a-bot reply. The pick is
// deterministic for a given seed so retries of the same turn answer
// the same way.
func (p *PersonaService) Deflection(seed string) string {
	persona := p.Current()
	pool := persona.Deflections
	if len(pool) == 0 {
		pool = persona.DefaultFallback
	}
	return pickSeeded(pool, seed)
}

// Fallback picks a tone-keyed canned reply for turns where generation
// failed or could not be made safe.
func (p *PersonaService) Fallback(tone, seed string) string {
	persona := p.Current()
	pool := persona.Fallbacks[tone]
	if len(pool) == 0 {
		pool = persona.DefaultFallback
	}
	return pickSeeded(pool, seed)
}

// Opener picks a greeting for a fresh session, or "" when the persona
// defines none.
func (p *PersonaService) Opener(newUser bool, seed string) string {
	persona := p.Current()
	pool := persona.OpenersReturning
	if newUser {
		pool = persona.OpenersNewUser
	}
	if len(pool) == 0 {
		return ""
	}
	return pickSeeded(pool, seed)
}

func pickSeeded(pool []string, seed string) string {
	if len(pool) == 0 {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(seed))
	return pool[int(h.Sum32())%len(pool)]
}
