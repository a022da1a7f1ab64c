// Package translate annotates messages with translations for the viewer's
// language. Lookups go through the translation cache first; the external
// translator is only called on a miss and its failures never reach callers.
package translate

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/metrics"
	"github.com/Jason198341/seatcon-sub001/internal/securelog"
	"github.com/Jason198341/seatcon-sub001/internal/transcache"
)

// AutoSource asks the translator to detect the source language itself.
const AutoSource = "auto"

var ErrEmptyResult = errors.New("translator returned empty result")

type Translator interface {
	// Translate converts text into target. An empty source means unknown.
	Translate(ctx context.Context, text, source, target string) (string, error)
	Detect(ctx context.Context, text string) (string, error)
}

type Pipeline struct {
	translator Translator
	cache      *transcache.Cache
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewPipeline(translator Translator, cache *transcache.Cache, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		translator: translator,
		cache:      cache,
		logger:     logger.Named("translate"),
		metrics:    m,
	}
}

// TranslateMessage returns msg annotated with its translation into target.
// A message already in target is returned unchanged. Translator failures
// mark the translation failed and keep the original content.
func (p *Pipeline) TranslateMessage(ctx context.Context, msg message.Message, target string) message.Message {
	target = strings.TrimSpace(target)
	if target == "" || msg.SourceLang == target || strings.TrimSpace(msg.Content) == "" {
		return msg
	}

	if text, ok := p.cache.Get(msg.Content, msg.SourceLang, target); ok {
		msg.Translation = message.Translation{Text: text, TargetLang: target, Status: message.TranslationDone}
		return msg
	}

	text, err := p.translator.Translate(ctx, msg.Content, msg.SourceLang, target)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResult
	}
	p.metrics.TranslatorCall("translate", err)
	if err != nil {
		p.logger.Warn("translation failed",
			zap.String("message_id", string(msg.ID)),
			zap.String("target", target),
			securelog.Err(err),
		)
		msg.Translation = message.Translation{TargetLang: target, Status: message.TranslationFailed}
		return msg
	}

	p.cache.Put(msg.Content, msg.SourceLang, target, text)
	msg.Translation = message.Translation{Text: text, TargetLang: target, Status: message.TranslationDone}
	return msg
}

// TranslateAll translates each message in place order.
func (p *Pipeline) TranslateAll(ctx context.Context, msgs []message.Message, target string) []message.Message {
	out := make([]message.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = p.TranslateMessage(ctx, msg, target)
	}
	return out
}

// DetectLanguage makes a best-effort guess at the language of text. It
// reports message.LangUnknown on failure, in which case source is fallback
// so downstream cache keys stay stable.
func (p *Pipeline) DetectLanguage(ctx context.Context, text, fallback string) (reported, source string) {
	lang, err := p.translator.Detect(ctx, text)
	lang = strings.TrimSpace(lang)
	if err == nil && lang == "" {
		err = ErrEmptyResult
	}
	p.metrics.TranslatorCall("detect", err)
	if err != nil {
		p.logger.Debug("language detection failed", securelog.Err(err))
		return message.LangUnknown, fallback
	}
	return lang, lang
}
