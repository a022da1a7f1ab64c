// Package prefs stores the user's preferred target language.
package prefs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Jason198341/seatcon-sub001/internal/localstore"
)

// RecordKey is the durable record owned by prefs.
const RecordKey = "preferred_language"

var ErrInvalidLanguage = errors.New("invalid language tag")

var validate = validator.New()

type Preferences struct {
	mu    sync.Mutex
	store localstore.Store
	lang  string
}

// Load reads the stored language, falling back to fallback when nothing
// usable is stored.
func Load(store localstore.Store, fallback string) *Preferences {
	p := &Preferences{store: store, lang: fallback}
	raw, err := store.Get(RecordKey)
	if err != nil {
		return p
	}
	if lang := strings.TrimSpace(string(raw)); validLanguage(lang) {
		p.lang = lang
	}
	return p
}

func validLanguage(lang string) bool {
	return validate.Var(lang, "required,bcp47_language_tag") == nil
}

func (p *Preferences) Language() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lang
}

// SetLanguage persists lang. The in-memory value only changes when the
// write succeeds.
func (p *Preferences) SetLanguage(lang string) error {
	lang = strings.TrimSpace(lang)
	if !validLanguage(lang) {
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Set(RecordKey, []byte(lang)); err != nil {
		return fmt.Errorf("save preferred language: %w", err)
	}
	p.lang = lang
	return nil
}
