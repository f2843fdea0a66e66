// Package slack is a Slack front-end for the relay: app mentions start a chat
// on the backend and the streamed reply is written back into Slack as it
// arrives.
package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
	appotel "github.com/ffaiyaz23/streamrelay/internal/otel"
	"github.com/ffaiyaz23/streamrelay/internal/stream"
)

const (
	// StreamModeUpdate edits the placeholder message with each token.
	StreamModeUpdate = "update"
	// StreamModeThread posts the finished reply as a thread reply.
	StreamModeThread = "thread"

	placeholderText = "🤖 Thinking…"
	errorText       = "⚠ Backend error"
	maxEventBody    = 1 << 20
)

// workItem is a single mention to process.
type workItem struct {
	channel string
	ts      string
	user    string
	query   string
}

// updateItem is the reply so far (plus final flag) to post back.
type updateItem struct {
	channel string
	ts      string
	text    string
	final   bool
}

// boolToInt helps record a boolean as an int attribute.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var tracer = otel.Tracer("streamrelay/slack")

// Config configures the Slack bridge.
type Config struct {
	BotToken      string
	SigningSecret string

	// PoolSize is the number of mentions streamed concurrently.
	PoolSize int

	// StreamMode is StreamModeUpdate or StreamModeThread.
	StreamMode string

	Backend *backend.Client

	// APIURL overrides the Slack Web API base URL; it must end in "/".
	APIURL string

	// PostInterval spaces out Slack API calls. Defaults to 50ms.
	PostInterval time.Duration
}

// Client orchestrates dispatcher → worker pool → poster.
type Client struct {
	api           *slack.Client
	backendClient *backend.Client
	workCh        chan workItem
	updateCh      chan updateItem
	poolSize      int
	streamMode    string
	postInterval  time.Duration
}

// New constructs the HTTP-based Slack client pipeline.
func New(cfg Config) *Client {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.StreamMode != StreamModeThread {
		cfg.StreamMode = StreamModeUpdate
	}
	if cfg.PostInterval == 0 {
		cfg.PostInterval = 50 * time.Millisecond
	}

	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Client{
		api:           slack.New(cfg.BotToken, opts...),
		backendClient: cfg.Backend,
		workCh:        make(chan workItem, cfg.PoolSize),
		updateCh:      make(chan updateItem, cfg.PoolSize*2),
		poolSize:      cfg.PoolSize,
		streamMode:    cfg.StreamMode,
		postInterval:  cfg.PostInterval,
	}
}

// handleAppMention posts a placeholder and enqueues the mention into the
// pipeline, with a tracing span and zap logs carrying trace_id and span_id.
func (c *Client) handleAppMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	ctx, span := tracer.Start(ctx, "ProcessAppMention",
		trace.WithAttributes(
			attribute.String("slack.user_id", ev.User),
			attribute.String("slack.channel_id", ev.Channel),
		),
	)
	defer span.End()
	logger := appotel.LoggerWithSpan(zap.L(), span)

	query := StripMention(ev.Text)
	if query == "" {
		logger.Debug("ignoring empty mention")
		return
	}

	channelID, ts, err := c.api.PostMessageContext(ctx,
		ev.Channel,
		slack.MsgOptionText(placeholderText, false),
	)
	if err != nil {
		span.RecordError(err)
		logger.Error("failed to post placeholder", zap.Error(err))
		return
	}

	logger.Info("enqueued work",
		zap.String("channel", channelID),
		zap.String("ts", ts),
		zap.String("query", query),
	)

	select {
	case c.workCh <- workItem{channel: channelID, ts: ts, user: ev.User, query: query}:
	case <-ctx.Done():
		logger.Warn("dropped mention", zap.Error(ctx.Err()))
	}
}

// startWorker pulls workItems and streams each reply through its own
// stream.Consumer, emitting updateItems to be posted.
func (c *Client) startWorker(ctx context.Context) {
	consumer := stream.NewConsumer(
		stream.WithHTTPClient(c.backendClient.HTTPClient),
		stream.WithLogger(zap.L()),
	)
	for {
		select {
		case <-ctx.Done():
			consumer.Stop()
			return
		case wi := <-c.workCh:
			c.process(ctx, consumer, wi)
		}
	}
}

// process starts a chat for one mention and relays its stream.
func (c *Client) process(parentCtx context.Context, consumer *stream.Consumer, wi workItem) {
	ctx, span := tracer.Start(parentCtx, "CallBackend",
		trace.WithAttributes(attribute.String("backend.user_id", wi.user)),
	)
	defer span.End()

	chat, err := c.backendClient.StartChat(ctx, backend.ChatRequest{Content: wi.query, UserID: wi.user})
	if err != nil {
		span.RecordError(err)
		zap.S().Errorw("backend chat error", "error", err)
		c.enqueue(ctx, updateItem{channel: wi.channel, ts: wi.ts, text: errorText, final: true})
		return
	}
	span.SetAttributes(attribute.String("backend.trace_id", chat.TraceID))

	var full strings.Builder
	sess := consumer.Start(ctx, c.backendClient.StreamURL(chat.TraceID), nil, stream.Handler{
		OnToken: func(token string) {
			full.WriteString(token)
			if c.streamMode == StreamModeUpdate {
				c.enqueue(ctx, updateItem{channel: wi.channel, ts: wi.ts, text: full.String()})
			}
		},
		OnComplete: func(text string) {
			c.enqueue(ctx, updateItem{channel: wi.channel, ts: wi.ts, text: text, final: true})
		},
		OnError: func(err error) {
			span.RecordError(err)
			zap.S().Errorw("backend stream error", "error", err, "stream", chat.TraceID)
			text := errorText
			if full.Len() > 0 {
				text = full.String() + "\n\n" + errorText
			}
			c.enqueue(ctx, updateItem{channel: wi.channel, ts: wi.ts, text: text, final: true})
		},
	})
	state := sess.Wait()
	span.SetAttributes(attribute.String("stream.state", state.String()))
}

func (c *Client) enqueue(ctx context.Context, ui updateItem) {
	select {
	case c.updateCh <- ui:
	case <-ctx.Done():
	}
}

// startPoster serializes updateItems back to Slack, tracing each API call
// and logging any errors.
func (c *Client) startPoster(ctx context.Context) {
	for {
		var ui updateItem
		select {
		case <-ctx.Done():
			return
		case ui = <-c.updateCh:
		}

		_, span := tracer.Start(ctx, "PostSlackUpdate",
			trace.WithAttributes(attribute.Int("chunk_final", boolToInt(ui.final))),
		)

		if c.streamMode == StreamModeThread {
			// Threads get the finished reply only; the placeholder stays put.
			_, _, err := c.api.PostMessageContext(ctx, ui.channel,
				slack.MsgOptionText(ui.text, false),
				slack.MsgOptionTS(ui.ts),
			)
			if err != nil {
				span.RecordError(err)
				zap.S().Errorw("threaded post error", "error", err)
			}
		} else {
			_, _, _, err := c.api.UpdateMessageContext(ctx, ui.channel, ui.ts,
				slack.MsgOptionText(ui.text, false),
			)
			if err != nil {
				span.RecordError(err)
				zap.S().Errorw("message update error", "error", err)
			}
		}

		span.End()
		time.Sleep(c.postInterval) // smooth API calls
	}
}

// EventsHandler returns an HTTP handler that:
// 1) verifies Slack signatures,
// 2) handles URLVerification challenges,
// 3) parses AppMention callbacks,
// 4) and dispatches them into the pipeline.
//
// The worker pool and poster run until ctx is cancelled.
func EventsHandler(ctx context.Context, cfg Config) http.HandlerFunc {
	client := New(cfg)

	go client.startPoster(ctx)
	for i := 0; i < client.poolSize; i++ {
		go client.startWorker(ctx)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		verifier, err := slack.NewSecretsVerifier(r.Header, cfg.SigningSecret)
		if err != nil {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		_, _ = verifier.Write(raw)
		if err := verifier.Ensure(); err != nil {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		evt, err := slackevents.ParseEvent(raw, slackevents.OptionNoVerifyToken())
		if err != nil {
			http.Error(w, "parse event error", http.StatusBadRequest)
			return
		}

		switch evt.Type {
		case slackevents.URLVerification:
			var ch slackevents.ChallengeResponse
			if err := json.Unmarshal(raw, &ch); err != nil {
				http.Error(w, "parse challenge error", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(ch.Challenge))
			return
		case slackevents.CallbackEvent:
			if ev, ok := evt.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
				// Use the request context so spans and logs chain.
				client.handleAppMention(r.Context(), ev)
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
