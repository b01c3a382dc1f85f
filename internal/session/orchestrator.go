package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ananyateklu/second-brain-sub005/internal/audio"
	"github.com/ananyateklu/second-brain-sub005/internal/config"
	"github.com/ananyateklu/second-brain-sub005/internal/metrics"
	"github.com/ananyateklu/second-brain-sub005/internal/negotiate"
	"github.com/ananyateklu/second-brain-sub005/internal/playback"
	"github.com/ananyateklu/second-brain-sub005/internal/protocol"
	"github.com/ananyateklu/second-brain-sub005/internal/transport"
	"github.com/ananyateklu/second-brain-sub005/internal/vad"
)

// SpeakerUser and SpeakerAgent are the transcript speaker identities.
const (
	SpeakerUser  = "user"
	SpeakerAgent = "assistant"
)

// TranscriptEntry is one finalized line of the conversation.
type TranscriptEntry struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// SessionError is the last fault surfaced to the caller. Recoverable errors
// leave the session running; non-recoverable ones end it.
type SessionError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Snapshot is a consistent copy of the observable session state.
type Snapshot struct {
	SessionID     string                 `json:"session_id"`
	State         protocol.SessionState  `json:"state"`
	TurnID        string                 `json:"turn_id,omitempty"`
	MicEnabled    bool                   `json:"mic_enabled"`
	HasPermission bool                   `json:"has_permission"`
	Playing       bool                   `json:"playing"`
	UserSpeaking  bool                   `json:"user_speaking"`
	Level         float64                `json:"level"`
	SilenceMs     int                    `json:"silence_ms"`
	UserPartial   string                 `json:"user_partial,omitempty"`
	AgentPartial  string                 `json:"agent_partial,omitempty"`
	Transcript    []TranscriptEntry      `json:"transcript"`
	LastError     *SessionError          `json:"last_error,omitempty"`
}

// UpdateFunc receives a snapshot after every observable change.
type UpdateFunc func(Snapshot)

// Orchestrator owns one voice session end to end: it negotiates the session,
// dials the audio channel, runs capture, VAD and playback, and drives the
// state machine. All event handlers serialize on one mutex, so every decision
// sees a consistent view regardless of which goroutine delivered the event.
//
// Half-duplex is enforced at the frame sink: a captured frame is transmitted
// only inside an utterance the VAD has opened, while the session is
// listening, the microphone is enabled, and no agent audio is scheduled.
type Orchestrator struct {
	config     *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	negotiator *negotiate.Client
	source     audio.Source
	sink       playback.Sink
	onUpdate   UpdateFunc

	// Session state, guarded by mu
	state         protocol.SessionState
	sessionID     string
	turnID        string
	micEnabled    bool
	hasPermission bool
	userSpeaking  bool
	silenceMs     int
	userPartial   string
	agentPartial  string
	transcript    []TranscriptEntry
	lastError     *SessionError
	chunksCounted uint64
	transmitting  bool
	finalSeen     bool
	starting      bool
	stopRequested bool
	startedAt     time.Time

	// Per-session components, guarded by mu
	capture    *audio.Capture
	detector   *vad.Detector
	player     *playback.Player
	channel    *transport.Channel
	tracker    *protocol.SequenceTracker
	sendCtx    context.Context
	sendCancel context.CancelFunc

	mu sync.Mutex
}

// NewOrchestrator creates a session orchestrator. The source is the
// microphone; the sink renders agent audio. onUpdate may be nil.
func NewOrchestrator(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics,
	source audio.Source, sink playback.Sink, onUpdate UpdateFunc) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if source == nil {
		return nil, fmt.Errorf("audio source cannot be nil")
	}

	if sink == nil {
		return nil, fmt.Errorf("playback sink cannot be nil")
	}

	negotiator, err := negotiate.NewClient(negotiate.Config{
		Endpoint:   cfg.Negotiation.Endpoint,
		APIKey:     cfg.Negotiation.APIKey,
		Timeout:    cfg.Negotiation.GetTimeoutDuration(),
		MaxRetries: cfg.Negotiation.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiation client: %w", err)
	}

	return &Orchestrator{
		config:     cfg,
		logger:     logger,
		metrics:    m,
		negotiator: negotiator,
		source:     source,
		sink:       sink,
		onUpdate:   onUpdate,
		state:      protocol.StateIdle,
	}, nil
}

// Start negotiates a session, dials the channel, and begins listening.
// On negotiation failure or a denied microphone the pre-session state is
// kept so the caller can retry.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.starting {
		o.mu.Unlock()
		return fmt.Errorf("session start already in progress")
	}
	// An Idle session with a live channel is connected but between turns;
	// only a pre-session Idle or an Ended session may start.
	if o.state != protocol.StateEnded && (o.state != protocol.StateIdle || o.channel != nil) {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("session already active in state %s", state)
	}
	o.resetLocked()
	o.starting = true
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordNegotiationRequest()
	}

	retriesBefore := o.negotiator.GetStats().TotalRetries
	grant, err := o.negotiator.Negotiate(ctx, negotiate.SessionOptions{
		Provider:     o.config.Session.Provider,
		Model:        o.config.Session.Model,
		VoiceID:      o.config.Session.VoiceID,
		SampleRate:   o.config.Audio.SampleRate,
		Capabilities: o.config.Session.Capabilities,
	})
	if o.metrics != nil {
		for n := o.negotiator.GetStats().TotalRetries - retriesBefore; n > 0; n-- {
			o.metrics.RecordNegotiationRetry()
		}
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordNegotiationFailure()
		}
		return o.failStart("negotiation_failed", fmt.Errorf("session negotiation failed: %w", err))
	}

	channel, err := transport.NewChannel(grant.ChannelURL, nil, transport.Config{
		HandshakeTimeout: o.config.Transport.GetHandshakeTimeout(),
		ReadLimit:        o.config.Transport.ReadLimit,
	}, o.logger, o.handleMessage, o.handleDecodeError, o.handleClosed)
	if err != nil {
		return o.failStart("channel_failed", fmt.Errorf("failed to create channel: %w", err))
	}

	if err := channel.Connect(ctx); err != nil {
		return o.failStart("channel_failed", fmt.Errorf("failed to connect channel: %w", err))
	}

	player, err := playback.NewPlayer(o.sink, o.config.Playback.QueueCapacity,
		o.logger, o.handlePlaybackEnded, o.handlePlaybackError)
	if err != nil {
		channel.Close()
		return o.failStart("playback_failed", fmt.Errorf("failed to create player: %w", err))
	}

	detector, err := vad.NewDetector(vad.Config{
		EnergyThreshold:  o.config.VAD.EnergyThreshold,
		SilenceThreshold: o.config.VAD.GetSilenceThreshold(),
	})
	if err != nil {
		player.Close()
		channel.Close()
		return o.failStart("vad_failed", fmt.Errorf("failed to create detector: %w", err))
	}

	capture, err := audio.NewCapture(audio.CaptureConfig{
		SampleRate: o.config.Audio.SampleRate,
		FrameSize:  o.config.Audio.FrameSize,
	}, o.logger, o.handleFrame, o.handleCaptureError)
	if err != nil {
		player.Close()
		channel.Close()
		return o.failStart("capture_failed", fmt.Errorf("failed to create capture: %w", err))
	}

	sendCtx, sendCancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.detector = detector
	o.tracker = protocol.NewSequenceTracker()
	o.mu.Unlock()

	if err := capture.Start(o.source); err != nil {
		player.Close()
		channel.Close()
		sendCancel()

		// Microphone unavailable: the session never began, so the caller
		// keeps the pre-session view and can retry after fixing permissions.
		o.mu.Lock()
		o.starting = false
		o.hasPermission = false
		o.detector = nil
		o.tracker = nil
		o.lastError = &SessionError{Code: "permission_denied", Message: err.Error(), Recoverable: true}
		o.mu.Unlock()
		o.notify()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	o.mu.Lock()
	if o.stopRequested {
		o.starting = false
		o.mu.Unlock()

		capture.Stop()
		player.Close()
		channel.Close()
		sendCancel()
		o.notify()
		return fmt.Errorf("session stopped during start")
	}

	o.sessionID = grant.SessionID
	o.channel = channel
	o.player = player
	o.capture = capture
	o.sendCtx = sendCtx
	o.sendCancel = sendCancel
	o.hasPermission = true
	o.micEnabled = true
	o.transmitting = false
	o.startedAt = time.Now()
	o.starting = false
	// The session stays Idle until the first speech onset; Listening is
	// entered by the VAD, not by the handshake.
	o.mu.Unlock()

	if err := channel.Send(sendCtx, protocol.NewControlMessage(protocol.ActionStart)); err != nil {
		if o.logger != nil {
			o.logger.Warn("Failed to send start control", slog.String("error", err.Error()))
		}
	} else if o.metrics != nil {
		o.metrics.RecordMessageSent(protocol.TypeControl)
	}

	if o.metrics != nil {
		o.metrics.RecordSessionStarted()
	}

	if o.logger != nil {
		o.logger.Info("Session started",
			slog.String("session_id", grant.SessionID),
			slog.String("provider", o.config.Session.Provider))
	}

	o.notify()
	return nil
}

// Stop tears the session down. Safe to call from any state, any number of
// times, including while Start is still in flight.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state == protocol.StateEnded && !o.starting {
		o.mu.Unlock()
		return
	}
	o.stopRequested = true
	o.teardownLocked("stopped by caller")
	o.mu.Unlock()

	o.notify()
}

// Interrupt cuts off agent speech. The playback queue is drained and the
// session is back in Listening before this returns; the agent is told with a
// control message so it stops synthesizing.
func (o *Orchestrator) Interrupt() error {
	o.mu.Lock()
	if o.state != protocol.StateSpeaking {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("nothing to interrupt in state %s", state)
	}

	o.player.Stop()
	o.finalSeen = false
	o.transmitting = false
	o.userSpeaking = false
	o.silenceMs = 0
	o.tracker.ResetTurn()
	o.detector.Reset()
	o.setStateLocked(protocol.StateListening, "user interrupt")

	ch := o.channel
	sendCtx := o.sendCtx
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordInterrupt()
	}

	if err := ch.Send(sendCtx, protocol.NewControlMessage(protocol.ActionInterrupt)); err != nil {
		if o.logger != nil {
			o.logger.Warn("Failed to send interrupt", slog.String("error", err.Error()))
		}
	} else if o.metrics != nil {
		o.metrics.RecordMessageSent(protocol.TypeControl)
	}

	o.notify()
	return nil
}

// ToggleMicrophone flips the mute state and returns the new enabled value.
func (o *Orchestrator) ToggleMicrophone() (bool, error) {
	o.mu.Lock()
	if o.capture == nil || o.state == protocol.StateEnded {
		o.mu.Unlock()
		return false, fmt.Errorf("no active session")
	}

	o.micEnabled = !o.micEnabled
	enabled := o.micEnabled
	if enabled {
		o.capture.Resume()
	} else {
		o.capture.Pause()
		o.transmitting = false
		o.userSpeaking = false
		o.silenceMs = 0
		o.detector.Reset()
	}

	ch := o.channel
	sendCtx := o.sendCtx
	o.mu.Unlock()

	action := protocol.ActionMute
	if enabled {
		action = protocol.ActionUnmute
	}
	if err := ch.Send(sendCtx, protocol.NewControlMessage(action)); err != nil {
		if o.logger != nil {
			o.logger.Warn("Failed to send mute control", slog.String("error", err.Error()))
		}
	} else if o.metrics != nil {
		o.metrics.RecordMessageSent(protocol.TypeControl)
	}

	o.notify()
	return enabled, nil
}

// UpdateOptions sends a partial session-option override to the agent.
func (o *Orchestrator) UpdateOptions(patch protocol.OptionsPatch) error {
	o.mu.Lock()
	ch := o.channel
	sendCtx := o.sendCtx
	active := ch != nil && o.state != protocol.StateEnded
	o.mu.Unlock()

	if !active || ch == nil {
		return fmt.Errorf("no active session")
	}

	if err := ch.Send(sendCtx, protocol.NewConfigMessage(patch)); err != nil {
		return fmt.Errorf("failed to send options update: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordMessageSent(protocol.TypeConfig)
	}
	return nil
}

// Ping sends a liveness probe over the channel.
func (o *Orchestrator) Ping() error {
	o.mu.Lock()
	ch := o.channel
	sendCtx := o.sendCtx
	o.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("no active session")
	}
	return ch.Send(sendCtx, protocol.NewControlMessage(protocol.ActionPing))
}

// ClearError dismisses the last surfaced error.
func (o *Orchestrator) ClearError() {
	o.mu.Lock()
	o.lastError = nil
	o.mu.Unlock()
	o.notify()
}

// Snapshot returns a consistent copy of the observable session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	var lastErr *SessionError
	if o.lastError != nil {
		e := *o.lastError
		lastErr = &e
	}

	playing := o.player != nil && o.player.IsPlaying()

	var level float64
	if o.detector != nil {
		level = o.detector.Level()
	}

	return Snapshot{
		SessionID:     o.sessionID,
		State:         o.state,
		TurnID:        o.turnID,
		MicEnabled:    o.micEnabled,
		HasPermission: o.hasPermission,
		Playing:       playing,
		UserSpeaking:  o.userSpeaking,
		Level:         level,
		SilenceMs:     o.silenceMs,
		UserPartial:   o.userPartial,
		AgentPartial:  o.agentPartial,
		Transcript:    append([]TranscriptEntry(nil), o.transcript...),
		LastError:     lastErr,
	}
}

// handleFrame is the capture sink. It runs VAD while listening and applies
// the half-duplex guard before transmitting.
func (o *Orchestrator) handleFrame(f *audio.Frame) {
	o.mu.Lock()
	if o.detector == nil || o.state == protocol.StateEnded {
		o.mu.Unlock()
		return
	}

	if o.metrics != nil {
		o.metrics.RecordFrameCaptured()
	}

	playing := o.player != nil && o.player.IsPlaying()
	var sendFinal bool
	var changed bool

	// The detector runs only between agent turns. Speech onset is what moves
	// an idle session into Listening and opens the transmit window.
	if o.state == protocol.StateIdle || o.state == protocol.StateListening {
		for _, ev := range o.detector.Process(f.Samples(), f.Duration()) {
			switch ev.Kind {
			case vad.SpeechStart:
				if playing {
					break
				}
				o.userSpeaking = true
				o.silenceMs = 0
				o.transmitting = true
				changed = true
				if o.state == protocol.StateIdle {
					o.setStateLocked(protocol.StateListening, "user speech detected")
				}
				if o.metrics != nil {
					o.metrics.RecordSpeechStart()
				}
				if o.logger != nil {
					o.logger.Debug("Speech started")
				}
			case vad.SilenceTick:
				o.silenceMs = ev.SilenceMs
			case vad.SpeechEnd:
				o.userSpeaking = false
				o.silenceMs = 0
				changed = true
				if o.state == protocol.StateListening && o.transmitting {
					o.transmitting = false
					sendFinal = true
					o.setStateLocked(protocol.StateProcessing, "end of utterance")
				}
				if o.metrics != nil {
					o.metrics.RecordSpeechEnd()
				}
			}
		}
	}

	// A frame leaves the engine only inside an open utterance, while
	// listening with the microphone enabled and no agent audio scheduled.
	sendFrame := o.transmitting && o.state == protocol.StateListening && o.micEnabled && !playing
	if !sendFrame && o.metrics != nil {
		o.metrics.RecordFrameSuppressed()
	}

	ch := o.channel
	sendCtx := o.sendCtx
	o.mu.Unlock()

	if ch != nil {
		if sendFrame {
			if err := ch.Send(sendCtx, protocol.NewAudioFrameMessage(f.PCM, false)); err != nil {
				if o.logger != nil {
					o.logger.Warn("Failed to send audio frame", slog.String("error", err.Error()))
				}
			} else if o.metrics != nil {
				o.metrics.RecordFrameSent()
				o.metrics.RecordMessageSent(protocol.TypeAudio)
			}
		}
		if sendFinal {
			if err := ch.Send(sendCtx, protocol.NewAudioFrameMessage(nil, true)); err != nil {
				if o.logger != nil {
					o.logger.Warn("Failed to send end-of-utterance marker", slog.String("error", err.Error()))
				}
			} else if o.metrics != nil {
				o.metrics.RecordMessageSent(protocol.TypeAudio)
			}
		}
	}

	if changed {
		o.notify()
	}
}

// handleMessage dispatches inbound channel messages. The transport delivers
// them one at a time in arrival order.
func (o *Orchestrator) handleMessage(msg protocol.Message) {
	if o.metrics != nil {
		o.metrics.RecordMessageReceived(msg.MessageType())
	}

	switch m := msg.(type) {
	case *protocol.TranscriptMessage:
		o.handleTranscript(m)
	case *protocol.AudioChunkMessage:
		o.handleAudioChunk(m)
	case *protocol.StateMessage:
		o.handleStateMessage(m)
	case *protocol.ErrorMessage:
		o.handleErrorMessage(m)
	case *protocol.MetadataMessage:
		if o.logger != nil {
			o.logger.Debug("Agent metadata", slog.String("event", m.Event))
		}
	case *protocol.PongMessage:
		// liveness only
	}
}

func (o *Orchestrator) handleTranscript(m *protocol.TranscriptMessage) {
	o.mu.Lock()
	if o.state == protocol.StateEnded {
		o.mu.Unlock()
		return
	}

	speaker := SpeakerUser
	if m.SpeakerID != "" {
		speaker = m.SpeakerID
	}

	if m.Final {
		if m.Text != "" {
			o.transcript = append(o.transcript, TranscriptEntry{
				Speaker: speaker,
				Text:    m.Text,
				At:      time.Now(),
			})
		}
		if speaker == SpeakerUser {
			o.userPartial = ""
		} else {
			o.agentPartial = ""
		}
	} else {
		if speaker == SpeakerUser {
			o.userPartial = m.Text
		} else {
			o.agentPartial = m.Text
		}
	}
	o.mu.Unlock()

	o.notify()
}

func (o *Orchestrator) handleAudioChunk(m *protocol.AudioChunkMessage) {
	o.mu.Lock()
	if o.state == protocol.StateEnded || o.player == nil {
		o.mu.Unlock()
		return
	}

	if err := o.tracker.Validate(m.Sequence); err != nil {
		var perr *protocol.ProtocolError
		if errors.As(err, &perr) {
			o.lastError = &SessionError{Code: perr.Code, Message: perr.Message, Recoverable: true}
			if o.metrics != nil {
				o.metrics.RecordProtocolError(perr.Code)
			}
			if o.logger != nil {
				o.logger.Warn("Sequence violation",
					slog.String("code", perr.Code),
					slog.Uint64("sequence", m.Sequence))
			}

			// A duplicate payload has already been played; drop it. A gap
			// cannot be refilled, so the chunk that did arrive still plays.
			if perr.Code == "sequence_duplicate" {
				o.mu.Unlock()
				o.notify()
				return
			}
		}
	}

	pcm, err := m.PCM()
	if err != nil {
		o.lastError = &SessionError{Code: "malformed_audio", Message: err.Error(), Recoverable: true}
		o.mu.Unlock()
		o.notify()
		return
	}

	if o.state != protocol.StateSpeaking {
		o.transmitting = false
		o.userSpeaking = false
		o.silenceMs = 0
		o.setStateLocked(protocol.StateSpeaking, "agent audio arrived")
	}

	if m.Final {
		o.finalSeen = true
	}

	player := o.player
	o.mu.Unlock()

	if len(pcm) > 0 {
		chunk := &playback.Chunk{
			Sequence:   m.Sequence,
			SampleRate: m.SampleRate,
			PCM:        pcm,
			Final:      m.Final,
		}
		if err := player.Enqueue(chunk); err != nil {
			if o.logger != nil {
				o.logger.Warn("Failed to enqueue agent audio", slog.String("error", err.Error()))
			}
			if o.metrics != nil {
				o.metrics.RecordChunkDropped()
			}
		} else if o.metrics != nil {
			o.metrics.RecordChunkQueued()
		}
	}

	// An empty final marker can arrive after the queue already drained.
	o.mu.Lock()
	o.maybeFinishTurnLocked()
	o.mu.Unlock()

	o.notify()
}

func (o *Orchestrator) handleStateMessage(m *protocol.StateMessage) {
	o.mu.Lock()
	if o.state == protocol.StateEnded || o.tracker == nil {
		o.mu.Unlock()
		return
	}

	if !m.State.IsValid() {
		o.lastError = &SessionError{
			Code:        "invalid_state",
			Message:     fmt.Sprintf("agent sent unknown state %d", int(m.State)),
			Recoverable: true,
		}
		o.mu.Unlock()
		o.notify()
		return
	}

	if m.TurnID != "" {
		o.turnID = m.TurnID
	}

	switch m.State {
	case protocol.StateEnded:
		o.teardownLocked("ended by agent")
	case protocol.StateIdle:
		// Agent-side session reset between turns.
		if o.state != protocol.StateIdle {
			o.finalSeen = false
			o.transmitting = false
			o.userSpeaking = false
			o.silenceMs = 0
			o.tracker.ResetTurn()
			o.detector.Reset()
			o.setStateLocked(protocol.StateIdle, m.Reason)
		}
	case protocol.StateListening:
		// Covers agent-side turn resets.
		if o.state != protocol.StateListening {
			o.finalSeen = false
			o.tracker.ResetTurn()
			o.detector.Reset()
			o.setStateLocked(protocol.StateListening, m.Reason)
		}
	case protocol.StateProcessing:
		if o.state == protocol.StateListening {
			o.transmitting = false
			o.setStateLocked(protocol.StateProcessing, m.Reason)
		}
	case protocol.StateSpeaking:
		if o.state == protocol.StateListening || o.state == protocol.StateProcessing {
			o.transmitting = false
			o.setStateLocked(protocol.StateSpeaking, m.Reason)
		}
	case protocol.StateInterrupted:
		// The agent detected a barge-in on its side; halt playback and wait
		// for its follow-up listening signal.
		if o.state == protocol.StateSpeaking {
			o.player.Stop()
			o.finalSeen = false
			o.transmitting = false
			o.tracker.ResetTurn()
			o.setStateLocked(protocol.StateInterrupted, m.Reason)
		}
	}
	o.mu.Unlock()

	o.notify()
}

func (o *Orchestrator) handleErrorMessage(m *protocol.ErrorMessage) {
	o.mu.Lock()
	if o.state == protocol.StateEnded {
		o.mu.Unlock()
		return
	}

	o.lastError = &SessionError{Code: m.Code, Message: m.Message, Recoverable: m.Recoverable}

	if o.logger != nil {
		o.logger.Error("Agent error",
			slog.String("code", m.Code),
			slog.String("message", m.Message),
			slog.Bool("recoverable", m.Recoverable))
	}

	if !m.Recoverable {
		o.teardownLocked("fatal agent error")
	}
	o.mu.Unlock()

	o.notify()
}

// handleDecodeError surfaces recoverable wire violations without touching
// session state.
func (o *Orchestrator) handleDecodeError(perr *protocol.ProtocolError) {
	o.mu.Lock()
	if o.state == protocol.StateEnded {
		o.mu.Unlock()
		return
	}
	o.lastError = &SessionError{Code: perr.Code, Message: perr.Message, Recoverable: true}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordProtocolError(perr.Code)
	}
	o.notify()
}

// handleClosed fires when the channel stops reading. A locally requested
// close is part of normal teardown; anything else ends the session.
func (o *Orchestrator) handleClosed(err error) {
	if err == nil {
		return
	}

	o.mu.Lock()
	if o.state == protocol.StateEnded {
		o.mu.Unlock()
		return
	}
	o.lastError = &SessionError{Code: "connection_lost", Message: err.Error(), Recoverable: false}
	o.teardownLocked("connection lost")
	o.mu.Unlock()

	o.notify()
}

// handlePlaybackEnded fires once per queue drain. The agent turn is over
// only when the final chunk was seen and everything scheduled has rendered.
func (o *Orchestrator) handlePlaybackEnded() {
	o.mu.Lock()
	if o.metrics != nil && o.player != nil {
		played := o.player.GetStats().ChunksPlayed
		for ; o.chunksCounted < played; o.chunksCounted++ {
			o.metrics.RecordChunkPlayed()
		}
	}
	o.maybeFinishTurnLocked()
	o.mu.Unlock()

	o.notify()
}

func (o *Orchestrator) maybeFinishTurnLocked() {
	if o.state != protocol.StateSpeaking || !o.finalSeen {
		return
	}
	if o.player != nil && o.player.IsPlaying() {
		return
	}

	o.finalSeen = false
	o.tracker.ResetTurn()
	o.detector.Reset()
	// Resume the transmit window; the mic and half-duplex gates still apply
	// per frame.
	o.transmitting = true
	o.setStateLocked(protocol.StateListening, "agent turn complete")
}

func (o *Orchestrator) handlePlaybackError(err error) {
	o.mu.Lock()
	if o.state == protocol.StateEnded {
		o.mu.Unlock()
		return
	}
	o.lastError = &SessionError{Code: "playback_failed", Message: err.Error(), Recoverable: false}
	o.teardownLocked("playback failure")
	o.mu.Unlock()

	o.notify()
}

func (o *Orchestrator) handleCaptureError(err error) {
	o.mu.Lock()
	if o.state == protocol.StateEnded {
		o.mu.Unlock()
		return
	}
	o.lastError = &SessionError{Code: "capture_failed", Message: err.Error(), Recoverable: false}
	o.teardownLocked("capture failure")
	o.mu.Unlock()

	o.notify()
}

// setStateLocked performs a state transition. Callers hold o.mu.
func (o *Orchestrator) setStateLocked(to protocol.SessionState, reason string) {
	if o.state == to {
		return
	}

	from := o.state
	o.state = to

	if o.logger != nil {
		o.logger.Info("Session state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("reason", reason))
	}

	if o.metrics != nil {
		o.metrics.RecordStateTransition(from.String(), to.String(), int(to))
	}
}

// teardownLocked stops every component and moves to Ended. Idempotent.
// Callers hold o.mu.
func (o *Orchestrator) teardownLocked(reason string) {
	if o.state == protocol.StateEnded {
		return
	}

	if o.capture != nil {
		o.capture.Stop()
	}
	if o.player != nil {
		o.player.Close()
	}
	if o.sendCancel != nil {
		o.sendCancel()
	}
	if o.channel != nil {
		if err := o.channel.Close(); err != nil && o.logger != nil {
			o.logger.Warn("Failed to close channel", slog.String("error", err.Error()))
		}
	}

	if o.metrics != nil && !o.startedAt.IsZero() {
		o.metrics.RecordSessionEnded(time.Since(o.startedAt).Seconds())
	}

	o.userSpeaking = false
	o.silenceMs = 0
	o.transmitting = false
	o.setStateLocked(protocol.StateEnded, reason)
}

// resetLocked clears per-session state ahead of a fresh start. Callers
// hold o.mu.
func (o *Orchestrator) resetLocked() {
	o.state = protocol.StateIdle
	o.sessionID = ""
	o.turnID = ""
	o.micEnabled = false
	o.userSpeaking = false
	o.silenceMs = 0
	o.userPartial = ""
	o.agentPartial = ""
	o.transcript = nil
	o.lastError = nil
	o.chunksCounted = 0
	o.transmitting = false
	o.finalSeen = false
	o.stopRequested = false
	o.startedAt = time.Time{}
	o.capture = nil
	o.detector = nil
	o.player = nil
	o.channel = nil
	o.tracker = nil
	o.sendCtx = nil
	o.sendCancel = nil
}

// failStart records a pre-session failure and leaves the engine idle.
func (o *Orchestrator) failStart(code string, err error) error {
	o.mu.Lock()
	o.starting = false
	o.lastError = &SessionError{Code: code, Message: err.Error(), Recoverable: true}
	o.mu.Unlock()

	if o.logger != nil {
		o.logger.Error("Session start failed", slog.String("code", code), slog.String("error", err.Error()))
	}

	o.notify()
	return err
}

// Stats aggregates component statistics for monitoring.
type Stats struct {
	State         string                   `json:"state"`
	SessionID     string                   `json:"session_id,omitempty"`
	FramesEmitted uint64                   `json:"frames_emitted"`
	Detector      *vad.DetectorStats       `json:"vad,omitempty"`
	Player        *playback.PlayerStats    `json:"playback,omitempty"`
	Channel       *transport.ChannelStats  `json:"channel,omitempty"`
	Tracker       *protocol.TrackerStats   `json:"sequence,omitempty"`
	Negotiation   negotiate.ClientStats    `json:"negotiation"`
}

// GetStats returns a consistent view of component statistics.
func (o *Orchestrator) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Stats{
		State:       o.state.String(),
		SessionID:   o.sessionID,
		Negotiation: o.negotiator.GetStats(),
	}

	if o.capture != nil {
		stats.FramesEmitted = o.capture.FramesEmitted()
	}
	if o.detector != nil {
		s := o.detector.GetStats()
		stats.Detector = &s
	}
	if o.player != nil {
		s := o.player.GetStats()
		stats.Player = &s
	}
	if o.channel != nil {
		s := o.channel.GetStats()
		stats.Channel = &s
	}
	if o.tracker != nil {
		s := o.tracker.GetStats()
		stats.Tracker = &s
	}

	return stats
}

func (o *Orchestrator) notify() {
	if o.onUpdate == nil {
		return
	}
	o.onUpdate(o.Snapshot())
}
