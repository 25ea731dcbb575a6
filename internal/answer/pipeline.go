// Package answer answers questions from the stored corpus through a generative provider
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/llm"
	"github.com/renderinc/helpdesk-search/internal/metrics"
)

const (
	// ContextLimit is the number of top-ranked documents the context is built from
	ContextLimit = 3
	// DefaultTemperature favors faithful over creative completions
	DefaultTemperature = 0.1
)

// ErrEmptyQuestion is returned for a blank question
var ErrEmptyQuestion = errors.New("question is empty")

// Retriever ranks documents against a query
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]document.Scored, error)
}

// Prompt holds the fixed parts of the instruction sent to the provider
type Prompt struct {
	Role          string `yaml:"role"`
	Directive     string `yaml:"directive"`
	QuestionLabel string `yaml:"question_label"`
}

// DefaultPrompt is the production prompt of the help center
var DefaultPrompt = Prompt{
	Role:          "Especialista 28Pro ERP.",
	Directive:     "Use apenas contexto:",
	QuestionLabel: "Pergunta:",
}

// Build assembles role, directive, context and question in that order
func (p Prompt) Build(contextBlock, question string) string {
	return p.Role + " " + p.Directive + "\n" + contextBlock + "\n\n" + p.QuestionLabel + " " + question
}

// Answer is a generated answer and the titles of the documents its context came from
type Answer struct {
	Text    string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Options configures a Pipeline
type Options struct {
	Prompt      Prompt
	Temperature float64 // sent as is; config defaults it to DefaultTemperature
	Metrics     *metrics.Metrics
}

// Pipeline retrieves the top documents for a question and asks the provider to answer from them
type Pipeline struct {
	retriever Retriever
	provider  llm.Provider
	opts      Options
	log       logrus.FieldLogger
}

// NewPipeline creates an answer pipeline
func NewPipeline(retriever Retriever, provider llm.Provider, opts Options, log logrus.FieldLogger) *Pipeline {
	if opts.Prompt == (Prompt{}) {
		opts.Prompt = DefaultPrompt
	}
	return &Pipeline{
		retriever: retriever,
		provider:  provider,
		opts:      opts,
		log:       log.WithField("component", "answer"),
	}
}

// Answer answers question from at most contextDocs documents; contextDocs <= 0 or above
// ContextLimit means ContextLimit. Retrieval and provider errors are returned unchanged.
func (p *Pipeline) Answer(ctx context.Context, question string, contextDocs int) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if contextDocs <= 0 || contextDocs > ContextLimit {
		contextDocs = ContextLimit
	}

	docs, err := p.retriever.Search(ctx, question, contextDocs)
	if err != nil {
		p.opts.Metrics.RecordAnswer(0, err)
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	// the retriever is trusted to honor the limit, the context bound is not
	if len(docs) > contextDocs {
		docs = docs[:contextDocs]
	}

	contextBlock, sources := BuildContext(docs)
	prompt := p.opts.Prompt.Build(contextBlock, question)

	start := time.Now()
	text, err := p.provider.Complete(ctx, llm.Request{Prompt: prompt, Temperature: p.opts.Temperature})
	elapsed := time.Since(start)
	p.opts.Metrics.RecordAnswer(elapsed, err)
	if err != nil {
		return nil, fmt.Errorf("complete with %s: %w", p.provider.Name(), err)
	}

	p.log.WithFields(logrus.Fields{
		"provider": p.provider.Name(),
		"sources":  len(sources),
		"duration": elapsed.Round(time.Millisecond).String(),
	}).Info("Answered question")

	return &Answer{Text: text, Sources: sources}, nil
}

// BuildContext renders documents as "{title}: {content}" lines in the given order and returns
// their titles
func BuildContext(docs []document.Scored) (string, []string) {
	lines := make([]string, 0, len(docs))
	sources := make([]string, 0, len(docs))
	for _, d := range docs {
		lines = append(lines, d.Document.Title+": "+document.Deref(d.Document.Content))
		sources = append(sources, d.Document.Title)
	}
	return strings.Join(lines, "\n"), sources
}
