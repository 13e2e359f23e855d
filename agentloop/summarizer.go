package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
	"golang.org/x/sync/errgroup"
)

const (
	summaryPrefix       = "[Assistant Execution Summary]\n\n"
	summarySystemPrompt = "You are an assistant skilled at summarizing agent execution processes."
	summaryInstructions = `Concisely summarize the following agent execution process:

%s

Requirements:
1. Focus on the tasks completed and the tools called
2. Keep key execution results and important findings
3. Be concise and clear, no more than 1000 words
4. Do not include anything about the user, only summarize the agent's execution process`
)

// Summarizer compresses the conversation when it grows past the token limit.
// Each user message is kept verbatim and the assistant work that followed it
// is replaced by a single summary message.
type Summarizer struct {
	client          Completer
	estimator       *TokenEstimator
	logger          *slog.Logger
	tokenLimit      int
	model           string
	concurrency     int
	minSpanMessages int
	skipNext        bool
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithSummaryConcurrency bounds the number of summaries requested at once.
func WithSummaryConcurrency(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMinSpanMessages sets the smallest span that is summarized. Shorter
// spans are kept as they are.
func WithMinSpanMessages(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.minSpanMessages = n
		}
	}
}

// WithSummaryModel overrides the model used for summary calls.
func WithSummaryModel(model string) SummarizerOption {
	return func(s *Summarizer) { s.model = model }
}

// NewSummarizer creates a summarizer that triggers above tokenLimit.
func NewSummarizer(client Completer, estimator *TokenEstimator, tokenLimit int, logger *slog.Logger, opts ...SummarizerOption) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if estimator == nil {
		estimator = NewFallbackEstimator()
	}
	s := &Summarizer{
		client:          client,
		estimator:       estimator,
		logger:          logger,
		tokenLimit:      tokenLimit,
		concurrency:     4,
		minSpanMessages: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEstimator replaces the token estimator.
func (s *Summarizer) SetEstimator(estimator *TokenEstimator) {
	if estimator != nil {
		s.estimator = estimator
	}
}

// ShouldSummarize reports whether either the local estimate or the usage
// last reported by the provider exceeds the limit.
func (s *Summarizer) ShouldSummarize(estimated, apiTotalTokens int) bool {
	return estimated > s.tokenLimit || apiTotalTokens > s.tokenLimit
}

type summarySpan struct {
	round int
	user  unifiedllm.Message
	msgs  []unifiedllm.Message
}

// MaybeSummarize runs one check against msgs and, when triggered, returns
// the rebuilt history and true. The check right after a successful pass is
// skipped so the provider can report fresh usage first.
func (s *Summarizer) MaybeSummarize(ctx context.Context, msgs []unifiedllm.Message, apiTotalTokens int) ([]unifiedllm.Message, bool) {
	if s.skipNext {
		s.skipNext = false
		return msgs, false
	}

	estimated := s.estimator.Estimate(msgs)
	if !s.ShouldSummarize(estimated, apiTotalTokens) {
		return msgs, false
	}

	s.logger.Info("token limit exceeded, summarizing history",
		"estimated_tokens", estimated,
		"api_total_tokens", apiTotalTokens,
		"token_limit", s.tokenLimit,
	)

	userIdx := lo.FilterMap(msgs, func(m unifiedllm.Message, i int) (int, bool) {
		return i, i > 0 && m.Role == unifiedllm.RoleUser
	})
	if len(userIdx) == 0 {
		s.logger.Warn("not enough messages to summarize")
		return msgs, false
	}

	spans := make([]summarySpan, len(userIdx))
	for n, idx := range userIdx {
		end := len(msgs)
		if n+1 < len(userIdx) {
			end = userIdx[n+1]
		}
		spans[n] = summarySpan{round: n + 1, user: msgs[idx], msgs: msgs[idx+1 : end]}
	}

	summaries := make([]string, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, span := range spans {
		if len(span.msgs) == 0 || len(span.msgs) < s.minSpanMessages {
			continue
		}
		g.Go(func() error {
			summaries[i] = s.summarizeSpan(gctx, span)
			return nil
		})
	}
	_ = g.Wait()

	rebuilt := []unifiedllm.Message{msgs[0]}
	summaryCount := 0
	for i, span := range spans {
		rebuilt = append(rebuilt, span.user)
		switch {
		case summaries[i] != "":
			rebuilt = append(rebuilt, unifiedllm.UserMessage(summaryPrefix+summaries[i]))
			summaryCount++
		case len(span.msgs) > 0:
			rebuilt = append(rebuilt, span.msgs...)
		}
	}

	s.skipNext = true

	s.logger.Info("history summarized",
		"tokens_before", estimated,
		"tokens_after", s.estimator.Estimate(rebuilt),
		"user_messages", len(userIdx),
		"summaries", summaryCount,
	)
	return rebuilt, true
}

// summarizeSpan asks the model for a summary of one round and falls back to
// the plain transcript when the call fails or returns nothing.
func (s *Summarizer) summarizeSpan(ctx context.Context, span summarySpan) string {
	transcript := spanTranscript(span.round, span.msgs)
	if s.client == nil {
		return transcript
	}

	resp, err := s.client.Complete(ctx, unifiedllm.Request{
		Model: s.model,
		Messages: []unifiedllm.Message{
			unifiedllm.SystemMessage(summarySystemPrompt),
			unifiedllm.UserMessage(fmt.Sprintf(summaryInstructions, transcript)),
		},
	})
	if err != nil {
		s.logger.Warn("summary generation failed", "round", span.round, "error", err)
		return transcript
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		s.logger.Warn("summary generation returned no text", "round", span.round)
		return transcript
	}
	s.logger.Debug("summary generated", "round", span.round)
	return text
}

// spanTranscript renders the assistant and tool messages of one round as
// role-labeled text.
func spanTranscript(round int, msgs []unifiedllm.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Round %d execution:\n\n", round)
	for _, msg := range msgs {
		switch msg.Role {
		case unifiedllm.RoleAssistant:
			fmt.Fprintf(&sb, "Assistant: %s\n", msg.TextContent())
			if calls := msg.ToolCalls(); len(calls) > 0 {
				names := lo.Map(calls, func(c unifiedllm.ToolCallData, _ int) string { return c.Name })
				fmt.Fprintf(&sb, "  → Called tools: %s\n", strings.Join(names, ", "))
			}
		case unifiedllm.RoleTool:
			fmt.Fprintf(&sb, "  ← Tool returned: %s...\n", msg.TextContent())
		case unifiedllm.RoleUser:
			fmt.Fprintf(&sb, "User: %s\n", msg.TextContent())
		}
	}
	return sb.String()
}
