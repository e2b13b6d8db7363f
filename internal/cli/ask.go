// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// askResult is the --json payload of the ask command.
type askResult struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	DurationMS int64  `json:"duration_ms"`
	Attempts   int    `json:"attempts"`
	Via        string `json:"via"`
}

// HandleAsk sends one question and prints the reply.
//
// Examples:
//
//	rigrun-agent ask "What is a goroutine?"
//	rigrun-agent ask --model phi3:mini --raw "Summarize RFC 2119"
//	rigrun-agent ask --json "hello" | jq .data.content
func (a *App) HandleAsk(ctx context.Context, args Args) error {
	reply, err := a.Agent.Run(ctx, args.Query)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("ask", askResult{
			Content:    reply.Content,
			Model:      reply.Model,
			DurationMS: reply.Duration.Milliseconds(),
			Attempts:   reply.Attempts,
			Via:        reply.Via,
		}).Print(a.out)
	}

	content := reply.Content
	if !args.Raw {
		content = renderMarkdown(content)
	}
	fmt.Fprint(a.out, content)
	if !strings.HasSuffix(content, "\n") {
		fmt.Fprintln(a.out)
	}

	if !args.Quiet {
		fmt.Fprintln(a.errOut, DimStyle.Render(fmt.Sprintf("%s · %s · %s",
			reply.Model, reply.Duration.Round(time.Millisecond), reply.Via)))
	}
	return nil
}
