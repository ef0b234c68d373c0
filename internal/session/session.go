// Package session plays one elementary stream: it dials a transport,
// negotiates the media description, queues inbound payloads, drives them
// through the codec engine and hands decoded pictures to AV sync.
// Manager tracks many independent sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zsiec/playout/internal/audio"
	"github.com/zsiec/playout/internal/avsync"
	"github.com/zsiec/playout/internal/codec"
	"github.com/zsiec/playout/internal/demux"
	"github.com/zsiec/playout/internal/playout"
	"github.com/zsiec/playout/internal/transport"
	"github.com/zsiec/playout/internal/wire"
)

// Framing selects how binary messages are interpreted.
type Framing string

const (
	// FramingRaw treats binary messages as Annex B bytes with no alignment
	// to access units.
	FramingRaw Framing = "raw"
	// FramingProtocol treats binary messages as wire frames.
	FramingProtocol Framing = "protocol"
)

// Defaults.
const (
	DefaultNegotiationTimeout = 5 * time.Second
	DefaultStatsInterval      = 250 * time.Millisecond
)

// Sentinel errors.
var (
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrClosed           = errors.New("session: closed")
	ErrNoOffer          = errors.New("session: no media offer received")
)

// Config describes one stream.
type Config struct {
	ID      string
	URL     string
	Framing Framing
	Queue   playout.QueueConfig

	// NegotiationTimeout bounds the wait for the media offer.
	NegotiationTimeout time.Duration
	// StatsInterval is the minimum spacing of OnStats callbacks.
	StatsInterval time.Duration
	// Captions enables CEA-608 extraction from SEI units.
	Captions bool
	// DisableAudio ignores audio streams in the offer.
	DisableAudio bool
	// Dial overrides Options.Dial for this stream.
	Dial transport.Dialer
}

// Options supplies the collaborators of a session. Nil fields select the
// reference implementations.
type Options struct {
	Dial      transport.Dialer
	NewEngine func() codec.Engine
	NewAudio  func() codec.AudioOutput
	Renderer  codec.Renderer
	AfterFunc avsync.AfterFunc
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	log := o.Logger
	if o.Dial == nil {
		o.Dial = transport.NewDialer(transport.DialOptions{Logger: log})
	}
	if o.NewEngine == nil {
		o.NewEngine = func() codec.Engine { return codec.NewInspector(log) }
	}
	if o.NewAudio == nil {
		o.NewAudio = func() codec.AudioOutput { return audio.NewPlayer(audio.Config{Logger: log}) }
	}
	if o.Renderer == nil {
		o.Renderer = codec.NewLogRenderer(log, 30)
	}
	return o
}

// Session is one stream's playout path. Callbacks are invoked from the
// receive and decode goroutines; they must not block or call Disconnect.
type Session struct {
	id   string
	cfg  Config
	opts Options
	log  *slog.Logger

	mu          sync.Mutex
	state       State
	conn        transport.Conn
	engine      *codec.Instrumented
	audio       codec.AudioOutput
	sync        *avsync.Controller
	queue       *playout.Queue
	disp        *playout.Dispatcher
	cancel      context.CancelFunc
	group       *errgroup.Group
	connectedAt time.Time
	offer       MediaOffer
	video       demux.VideoInfo
	rate        rateMeter

	// Parsing state owned by the drain goroutine once streaming starts.
	family      *demux.Family
	framer      *demux.StreamFramer
	reasm       *wire.Reassembler
	captions    *demux.CaptionExtractor
	framerStats atomic.Pointer[demux.FramerStats]

	closed    atomic.Bool
	closeOnce sync.Once

	bytesReceived    atomic.Int64
	messagesReceived atomic.Int64
	decodeErrors     atomic.Int64
	captionCount     atomic.Int64

	limiter *rate.Limiter
	cbMu    sync.RWMutex
	cb      callbacks
}

type callbacks struct {
	status  func(State)
	stats   func(Stats)
	err     func(error)
	caption func(Caption)
}

// New creates an idle session. An empty cfg.ID is replaced by a random
// UUID.
func New(cfg Config, opts Options) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Framing == "" {
		cfg.Framing = FramingProtocol
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	opts = opts.withDefaults()
	return &Session{
		id:      cfg.ID,
		cfg:     cfg,
		opts:    opts,
		log:     opts.Logger.With("component", "session", "stream", cfg.ID),
		queue:   playout.NewQueue(cfg.Queue),
		limiter: rate.NewLimiter(rate.Every(cfg.StatsInterval), 1),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// URL returns the source URL.
func (s *Session) URL() string { return s.cfg.URL }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStatusChange registers fn to receive state transitions.
func (s *Session) OnStatusChange(fn func(State)) {
	s.cbMu.Lock()
	s.cb.status = fn
	s.cbMu.Unlock()
}

// OnStats registers fn to receive rate-limited statistics.
func (s *Session) OnStats(fn func(Stats)) {
	s.cbMu.Lock()
	s.cb.stats = fn
	s.cbMu.Unlock()
}

// OnError registers fn to receive non-fatal decode errors and the
// session-fatal transport or negotiation error.
func (s *Session) OnError(fn func(error)) {
	s.cbMu.Lock()
	s.cb.err = fn
	s.cbMu.Unlock()
}

// OnCaption registers fn to receive caption updates. Config.Captions must
// be set.
func (s *Session) OnCaption(fn func(Caption)) {
	s.cbMu.Lock()
	s.cb.caption = fn
	s.cbMu.Unlock()
}

func (s *Session) callbacks() callbacks {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	return s.cb
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.notifyState(prev, st)
}

func (s *Session) notifyState(prev, st State) {
	s.log.Debug("state", "from", prev, "to", st)
	if fn := s.callbacks().status; fn != nil {
		fn(st)
	}
}

func (s *Session) reportError(err error) {
	if fn := s.callbacks().err; fn != nil {
		fn(err)
	}
}

// Connect dials the source, negotiates and starts streaming. It returns
// once the session is streaming or has failed; a failed session is torn
// down and cannot be reused.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed.Load():
		s.mu.Unlock()
		return ErrClosed
	case s.state != StateIdle:
		s.mu.Unlock()
		return fmt.Errorf("connect %s: %w", s.id, ErrAlreadyConnected)
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyState(StateIdle, StateConnecting)

	s.log.Info("connecting", "url", s.cfg.URL, "framing", s.cfg.Framing)
	dial := s.opts.Dial
	if s.cfg.Dial != nil {
		dial = s.cfg.Dial
	}
	conn, err := dial(ctx, s.cfg.URL)
	if err != nil {
		return s.fail(fmt.Errorf("connect %s: %w", s.id, err))
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	s.setState(StateNegotiating)
	if err := s.negotiate(ctx, conn); err != nil {
		return s.fail(fmt.Errorf("connect %s: %w", s.id, err))
	}

	// The receive loop outlives Connect's context; Disconnect ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, runCtx := errgroup.WithContext(runCtx)

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		cancel()
		return ErrClosed
	}
	s.cancel = cancel
	s.group = g
	s.connectedAt = time.Now()
	s.rate = rateMeter{last: s.connectedAt}
	s.mu.Unlock()
	s.bytesReceived.Store(0)
	s.messagesReceived.Store(0)

	s.setState(StateStreaming)
	s.log.Info("streaming", "remote", conn.RemoteAddr())

	g.Go(func() error { return s.receive(runCtx, conn) })
	return nil
}

// fail moves to the error state, tears down and returns err. A session
// already closed by Disconnect stays closed and reports nothing.
func (s *Session) fail(err error) error {
	if s.closed.Load() {
		s.log.Debug("connect abandoned", "error", err)
		return ErrClosed
	}
	s.log.Warn("connect failed", "error", err)
	s.setState(StateError)
	s.reportError(err)
	s.teardown()
	return err
}

// negotiate waits for the media offer, initializes the codec collaborators
// and answers.
func (s *Session) negotiate(ctx context.Context, conn transport.Conn) error {
	nctx, cancel := context.WithTimeout(ctx, s.cfg.NegotiationTimeout)
	defer cancel()

	var offer MediaOffer
	for {
		msg, err := conn.Receive(nctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w within %s", ErrNoOffer, s.cfg.NegotiationTimeout)
			}
			return fmt.Errorf("await offer: %w", err)
		}
		if msg.Kind != transport.KindText {
			s.log.Debug("dropping binary message before negotiation", "bytes", len(msg.Data))
			continue
		}
		o, ok := parseOffer(msg.Data)
		if !ok {
			continue
		}
		offer = o
		break
	}
	s.log.Info("media offer", "version", offer.Version, "streams", len(offer.Streams))

	if err := s.setup(nctx, offer); err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		reason := err.Error()
		if answer, merr := EncodeAnswer(MediaAnswer{Accepted: false, Reason: reason}); merr == nil {
			if serr := conn.Send(nctx, transport.Message{Kind: transport.KindText, Data: answer}); serr != nil {
				s.log.Debug("send rejection failed", "error", serr)
			}
		}
		return &NegotiationError{Reason: reason, Err: err}
	}

	answer, err := EncodeAnswer(MediaAnswer{Accepted: true})
	if err != nil {
		return err
	}
	if err := conn.Send(nctx, transport.Message{Kind: transport.KindText, Data: answer}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// setup builds the decode path for an offer.
func (s *Session) setup(ctx context.Context, offer MediaOffer) error {
	vc, err := offer.videoCodec()
	if err != nil {
		return err
	}
	family := demux.FamilyFor(vc)

	engine := codec.Instrument(s.opts.NewEngine())
	s.mu.Lock()
	s.engine = engine
	s.offer = offer
	s.mu.Unlock()

	if err := engine.Init(ctx, vc); err != nil {
		if s.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("init %s decoder: %w", vc, err)
	}
	if s.closed.Load() {
		return ErrClosed
	}

	var out codec.AudioOutput
	if params, ok := offer.audioParams(); ok && !s.cfg.DisableAudio {
		if err := engine.InitAudio(ctx, params); err != nil {
			return fmt.Errorf("init %s audio: %w", params.Codec, err)
		}
		out = s.opts.NewAudio()
		s.log.Info("audio enabled", "codec", params.Codec, "sample_rate", params.SampleRate, "channels", params.Channels)
	}

	ctrl := avsync.New(avsync.Config{AfterFunc: s.opts.AfterFunc, Logger: s.log}, s.render)
	if out != nil {
		ctrl.SetClock(out)
	}

	var (
		framer *demux.StreamFramer
		reasm  *wire.Reassembler
		caps   *demux.CaptionExtractor
	)
	switch s.cfg.Framing {
	case FramingRaw:
		framer = demux.NewStreamFramer(family, s.log)
		framer.Assembler().OnParamUpdate(func(kind demux.ParamKind, data []byte) {
			if kind == demux.ParamSPS {
				s.noteSPS(data)
			}
		})
	default:
		reasm = wire.NewReassembler(wire.DefaultMaxEntries)
	}
	if s.cfg.Captions {
		caps = demux.NewCaptionExtractor(family)
	}

	disp := playout.NewDispatcher(s.queue, s.decode, s.log)
	disp.OnError(func(pkt playout.Packet, err error) {
		s.decodeErrors.Add(1)
		s.reportError(fmt.Errorf("decode packet %d: %w", pkt.Seq, err))
	})

	s.mu.Lock()
	if s.closed.Load() {
		// Disconnect ran while the engine initialized; teardown has
		// already taken its snapshot, so release what was built here.
		s.mu.Unlock()
		ctrl.Destroy()
		disp.Close()
		if out != nil {
			if err := out.Close(); err != nil {
				s.log.Debug("close audio", "error", err)
			}
		}
		return ErrClosed
	}
	s.family = family
	s.framer = framer
	s.reasm = reasm
	s.captions = caps
	s.audio = out
	s.sync = ctrl
	s.disp = disp
	s.mu.Unlock()
	return nil
}

// receive pumps transport messages into the queue until the transport
// fails or the session is disconnected.
func (s *Session) receive(ctx context.Context, conn transport.Conn) error {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || s.closed.Load() {
				return nil
			}
			err = fmt.Errorf("receive: %w", err)
			s.log.Warn("transport failed", "error", err)
			s.reportError(err)
			s.teardown()
			return err
		}

		s.messagesReceived.Add(1)
		s.bytesReceived.Add(int64(len(msg.Data)))
		if msg.Kind == transport.KindBinary {
			s.queue.Enqueue(playout.Bytes(msg.Data))
			s.disp.Drive()
			s.updateRate()
		}
		s.notifyStats()
	}
}

// Disconnect tears the session down and waits for its goroutines. It is
// idempotent.
func (s *Session) Disconnect() {
	s.teardown()
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g != nil {
		_ = g.Wait()
	}
}

// Wait blocks until the receive loop ends and returns the transport error
// that ended it, or nil after Disconnect.
func (s *Session) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// teardown releases every collaborator exactly once and enters Closed,
// unless the session already failed. It does not wait for the receive
// loop, so the loop itself may call it. Queued packets, the unit held by
// the raw framer and pictures buffered inside the engine are discarded,
// not flushed.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.mu.Lock()
		cancel, conn, disp := s.cancel, s.conn, s.disp
		ctrl, out, engine := s.sync, s.audio, s.engine
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if ctrl != nil {
			ctrl.Destroy()
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.log.Debug("close transport", "error", err)
			}
		}
		if disp != nil {
			disp.Close()
		}
		if out != nil {
			if err := out.Close(); err != nil {
				s.log.Debug("close audio", "error", err)
			}
		}
		if engine != nil {
			if err := engine.Destroy(); err != nil {
				s.log.Debug("destroy engine", "error", err)
			}
		}
		s.queue.Clear()

		s.mu.Lock()
		s.connectedAt = time.Time{}
		failed := s.state == StateError
		s.mu.Unlock()
		if !failed {
			s.setState(StateClosed)
		}

		final := s.Stats()
		s.log.Info("session closed",
			"bytes", final.BytesReceived,
			"messages", final.MessagesReceived,
			"frames", final.Decoder.TotalFrames,
			"dropped", final.Decoder.DroppedFrames)
		if fn := s.callbacks().stats; fn != nil {
			fn(final)
		}
	})
}
